package podannotate

import (
	"context"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/dominodatalab/autocrane/pkg/autocranetypes"
)

func TestPut(t *testing.T) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "p1", Namespace: "ns1"}}
	client := fake.NewSimpleClientset(pod)

	var patched string
	client.PrependReactor("patch", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		patchAction := action.(k8stesting.PatchAction)
		patched = string(patchAction.GetPatch())
		return true, pod, nil
	})

	putter := NewPutter(testr.New(t), client.CoreV1().Pods)
	err := putter.Put(context.Background(), autocranetypes.PodIdentifier{Namespace: "ns1", Name: "p1"},
		[]Annotation{{Key: RequestAnnotationKey("widgets"), Value: "ZGF0YQ=="}})
	require.NoError(t, err)
	assert.Contains(t, patched, RequestAnnotationKey("widgets"))
}

func TestPut_NoAnnotations(t *testing.T) {
	client := fake.NewSimpleClientset()
	putter := NewPutter(testr.New(t), client.CoreV1().Pods)

	err := putter.Put(context.Background(), autocranetypes.PodIdentifier{Namespace: "ns1", Name: "p1"}, nil)
	assert.NoError(t, err)
}
