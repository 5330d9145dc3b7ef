// Package leaderelection wraps client-go's lease-based leader election as a
// background task the orchestrator polls with two memory-safe reads.
package leaderelection

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// Elector exposes the two reads the orchestrator loop needs each iteration.
// Both are safe to call from any goroutine.
type Elector interface {
	// IsLeader reports whether this process currently holds the lease.
	IsLeader() bool
	// Completed reports whether the background election task has returned,
	// whether because ctx was canceled or the lease was permanently lost.
	Completed() bool
}

type elector struct {
	log      logr.Logger
	isLeader atomic.Bool
	done     atomic.Bool
}

// Start launches the leader-election background task and returns an Elector
// that tracks it. renew and identity configure the client-go lease: renew is
// the renew deadline, identity distinguishes this process among peers
// contending for leaseName in namespace.
func Start(ctx context.Context, log logr.Logger, clientset kubernetes.Interface, namespace, leaseName, identity string, renew time.Duration) (Elector, error) {
	lock, err := resourcelock.New(
		resourcelock.LeasesResourceLock,
		namespace,
		leaseName,
		clientset.CoreV1(),
		clientset.CoordinationV1(),
		resourcelock.ResourceLockConfig{Identity: identity},
	)
	if err != nil {
		return nil, err
	}

	e := &elector{log: log}

	go func() {
		defer e.done.Store(true)

		leaderelection.RunOrDie(ctx, leaderelection.LeaderElectionConfig{
			Lock:          lock,
			LeaseDuration: renew * 2,
			RenewDeadline: renew,
			RetryPeriod:   renew / 4,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(context.Context) {
					e.log.Info("Acquired leader lease", "lease", leaseName)
					e.isLeader.Store(true)
				},
				OnStoppedLeading: func() {
					e.log.Info("Lost leader lease", "lease", leaseName)
					e.isLeader.Store(false)
				},
			},
		})
	}()

	return e, nil
}

func (e *elector) IsLeader() bool {
	return e.isLeader.Load()
}

func (e *elector) Completed() bool {
	return e.done.Load()
}
