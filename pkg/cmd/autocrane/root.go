package autocrane

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/dominodatalab/autocrane/pkg/clock"
	"github.com/dominodatalab/autocrane/pkg/config"
	"github.com/dominodatalab/autocrane/pkg/eviction"
	"github.com/dominodatalab/autocrane/pkg/gc"
	"github.com/dominodatalab/autocrane/pkg/knowngood"
	autocranek8s "github.com/dominodatalab/autocrane/pkg/kubernetes"
	"github.com/dominodatalab/autocrane/pkg/latest"
	"github.com/dominodatalab/autocrane/pkg/leaderelection"
	"github.com/dominodatalab/autocrane/pkg/logger"
	"github.com/dominodatalab/autocrane/pkg/manifest"
	"github.com/dominodatalab/autocrane/pkg/orchestrator"
	"github.com/dominodatalab/autocrane/pkg/podannotate"
	"github.com/dominodatalab/autocrane/pkg/podrequest"
	"github.com/dominodatalab/autocrane/pkg/versionstore"
	"github.com/dominodatalab/autocrane/pkg/watchdog"
)

// NewCommand builds the "autocrane" cobra command tree.
func NewCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "autocrane",
		Short: "Pod data-version rollout and watchdog-eviction controller",
	}
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "autocrane.yaml", "configuration file")
	cmd.AddCommand(newInitCommand(), newStartCommand())

	return cmd
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate config skeleton",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgFile, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			bs, err := yaml.Marshal(config.Defaults())
			if err != nil {
				return err
			}

			return os.WriteFile(cfgFile, bs, 0o644)
		},
	}
}

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the orchestrator control loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgFile, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			cfg, err := config.LoadFromFile(cfgFile)
			if err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				_, _ = fmt.Fprintln(os.Stderr, err)
				os.Exit(orchestrator.ExitConfigOrLease)
			}

			os.Exit(run(cfg))
			return nil
		},
	}
}

func run(cfg config.Controller) int {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return 1
	}

	restConfig, err := clusterRestConfig(cfg.Cluster.Kubeconfig)
	if err != nil {
		log.Error(err, "Cannot build cluster REST config")
		return 1
	}

	clientset, err := autocranek8s.Clientset(restConfig)
	if err != nil {
		log.Error(err, "Cannot build cluster clientset")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	identity, _ := os.Hostname()

	elector, err := leaderelection.Start(
		ctx, log, clientset, cfg.Cluster.ManifestNamespace, cfg.Orchestra.LeaderLease, identity, 30*time.Second,
	)
	if err != nil {
		log.Error(err, "Cannot start leader election")
		return 1
	}

	manifestFetcher := manifest.NewConfigMapFetcher(log, clientset.CoreV1().ConfigMaps(cfg.Cluster.ManifestNamespace), cfg.Cluster.ManifestConfigMap)
	knownGoodStore := versionstore.New(clientset.CoreV1().ConfigMaps, cfg.Cluster.VersionsConfigMapPrefix, "knowngood")
	latestStore := versionstore.New(clientset.CoreV1().ConfigMaps, cfg.Cluster.VersionsConfigMapPrefix, "latest")

	o := orchestrator.New(log, cfg, orchestrator.Collaborators{
		Clock:             clock.RealClock{},
		ManifestFetcher:   manifestFetcher,
		RequestGetter:     podrequest.NewGetter(clientset.CoreV1().Pods),
		KnownGoodAccessor: knowngood.New(log, knownGoodStore),
		LatestAccessor:    latest.New(log, latestStore),
		WatchdogGetter:    watchdog.NewConditionGetter(log, clientset.CoreV1().Pods, cfg.Cluster.Watchdogs),
		AnnotationPutter:  podannotate.NewPutter(log, clientset.CoreV1().Pods),
		Evicter:           eviction.New(log, clientset.CoreV1().Pods),
		Deleter:           gc.New(log, clientset.CoreV1().ConfigMaps),
		Elector:           elector,
	})

	return o.Run(ctx)
}

// clusterRestConfig loads kubeconfig's client config when set, falling back
// to the canonical out-of-cluster-then-in-cluster resolution order.
func clusterRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		return autocranek8s.RestConfig()
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	rules.ExplicitPath = kubeconfig

	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
}
