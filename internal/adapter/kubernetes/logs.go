package kubernetes

import (
	"context"
	"fmt"
	"io"

	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/chiwei-platform/deployd/internal/port"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

var _ port.LogStreamer = (*K8sLogStreamer)(nil)

// labelJobName 由 Job controller 自动打在 Pod 上。
const labelJobName = "job-name"

type K8sLogStreamer struct {
	client    kubernetes.Interface
	namespace string
}

func NewK8sLogStreamer(client kubernetes.Interface, namespace string) *K8sLogStreamer {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &K8sLogStreamer{client: client, namespace: namespace}
}

// StreamLogs 找到 JobID 对应的第一个 Pod 并打开跟随日志流。
// 优先取构建 Job 的 Pod，没有构建时退回应用本身的 Pod。ctx 取消时流随之关闭。
func (s *K8sLogStreamer) StreamLogs(ctx context.Context, jobID domain.JobID) (io.ReadCloser, error) {
	pod, err := s.findPod(ctx, jobID)
	if err != nil {
		return nil, err
	}

	stream, err := s.client.CoreV1().Pods(s.namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
		Follow: true,
	}).Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream pod logs %s: %w", pod.Name, err)
	}
	return stream, nil
}

func (s *K8sLogStreamer) findPod(ctx context.Context, jobID domain.JobID) (*corev1.Pod, error) {
	selectors := []string{
		fmt.Sprintf("%s=%s", labelJobName, jobID.String()),
		fmt.Sprintf("%s=%s", labelApp, jobID.App),
	}
	for _, selector := range selectors {
		pods, err := s.client.CoreV1().Pods(s.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: selector,
		})
		if err != nil {
			return nil, fmt.Errorf("list pods %s: %w", selector, err)
		}
		if len(pods.Items) > 0 {
			return &pods.Items[0], nil
		}
	}
	return nil, domain.ErrPodNotFound
}
