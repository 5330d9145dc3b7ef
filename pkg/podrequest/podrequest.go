// Package podrequest reads, for a namespace, every pod's data-source wishes
// and currently annotated requests.
package podrequest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	corev1typed "k8s.io/client-go/kubernetes/typed/core/v1"

	"github.com/dominodatalab/autocrane/pkg/autocranetypes"
	"github.com/dominodatalab/autocrane/pkg/podannotate"
)

// Annotation keys consumed (never set) from the pod's own annotations.
const (
	DropFolderAnnotation  = "data.autocrane/drop-folder"
	DataSourcesAnnotation = "data.autocrane/sources"
)

// Getter reads every pod's PodDataRequestInfo in a namespace.
type Getter interface {
	Get(ctx context.Context, namespace string) ([]autocranetypes.PodDataRequestInfo, error)
}

type podGetter struct {
	pods func(namespace string) corev1typed.PodInterface
}

// NewGetter builds a Getter backed by the core v1 pod client.
func NewGetter(pods func(namespace string) corev1typed.PodInterface) Getter {
	return &podGetter{pods: pods}
}

func (g *podGetter) Get(ctx context.Context, namespace string) ([]autocranetypes.PodDataRequestInfo, error) {
	list, err := g.pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("cannot list pods in namespace %q: %w", namespace, err)
	}

	infos := make([]autocranetypes.PodDataRequestInfo, 0, len(list.Items))
	for _, pod := range list.Items {
		info := autocranetypes.PodDataRequestInfo{
			ID:         autocranetypes.PodIdentifier{Namespace: pod.Namespace, Name: pod.Name},
			DropFolder: pod.Annotations[DropFolderAnnotation],
			Requests:   map[string]autocranetypes.EncodedRequest{},
		}

		if sources := pod.Annotations[DataSourcesAnnotation]; sources != "" {
			for _, repo := range strings.Split(sources, ",") {
				repo = strings.TrimSpace(repo)
				if repo != "" {
					info.DataSources = append(info.DataSources, repo)
				}
			}
		}

		for _, repo := range info.DataSources {
			key := podannotate.RequestAnnotationKey(repo)
			if value, ok := pod.Annotations[key]; ok {
				info.Requests[repo] = autocranetypes.EncodedRequest(value)
			}
		}

		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID.Name < infos[j].ID.Name })

	return infos, nil
}
