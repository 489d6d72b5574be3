package kubernetes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/chiwei-platform/deployd/internal/port"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
)

var _ port.StatusResolver = (*K8sStatusResolver)(nil)

type K8sStatusResolver struct {
	client    kubernetes.Interface
	namespace string
}

func NewK8sStatusResolver(client kubernetes.Interface, namespace string) *K8sStatusResolver {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &K8sStatusResolver{client: client, namespace: namespace}
}

func (r *K8sStatusResolver) DeploymentStatus(ctx context.Context, appName string) (domain.ResourceStatus, error) {
	deploy, err := r.client.AppsV1().Deployments(r.namespace).Get(ctx, appName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return domain.ResourceStatus{}, domain.ErrDeploymentNotFound
	}
	if err != nil {
		return domain.ResourceStatus{}, fmt.Errorf("get deployment %s: %w", appName, err)
	}
	return r.deploymentStatus(ctx, deploy), nil
}

// deploymentStatus 按就绪副本数推断状态。只要有副本就绪就视为完成，
// 之后的查询不会再回退到 running。
func (r *K8sStatusResolver) deploymentStatus(ctx context.Context, deploy *appsv1.Deployment) domain.ResourceStatus {
	desired := int32(1)
	if deploy.Spec.Replicas != nil {
		desired = *deploy.Spec.Replicas
	}
	st := deploy.Status

	if st.ReadyReplicas > 0 {
		return domain.ResourceStatus{
			Status:  domain.JobStatusCompleted,
			Phase:   domain.PhaseDeployed,
			Message: fmt.Sprintf("%d/%d replicas ready", st.ReadyReplicas, desired),
		}
	}

	if reason, failed := r.detectPodFailure(ctx, deploy); failed {
		return failedStatus(reason)
	}

	// Progressing condition 为 False 表示部署卡住
	for _, cond := range st.Conditions {
		if cond.Type == appsv1.DeploymentProgressing && cond.Status == corev1.ConditionFalse {
			return failedStatus(fmt.Sprintf("deployment is not progressing: %s", cond.Message))
		}
	}
	if desired == 0 {
		return failedStatus("deployment has 0 desired replicas")
	}
	if deploy.Generation > 0 && st.ObservedGeneration >= deploy.Generation && st.Replicas == 0 {
		return failedStatus("controller observed the deployment but created no replicas")
	}

	return domain.ResourceStatus{
		Status:  domain.JobStatusRunning,
		Phase:   domain.PhaseDeploying,
		Message: fmt.Sprintf("%d/%d replicas ready", st.ReadyReplicas, desired),
	}
}

func failedStatus(message string) domain.ResourceStatus {
	return domain.ResourceStatus{Status: domain.JobStatusFailed, Phase: domain.PhaseFailed, Message: message}
}

// detectPodFailure 检查 Deployment 下的 Pod 是否处于不可恢复的等待状态。
// 列 Pod 失败时不下结论，交给副本数判断。
func (r *K8sStatusResolver) detectPodFailure(ctx context.Context, deploy *appsv1.Deployment) (string, bool) {
	if deploy.Spec.Selector == nil {
		return "", false
	}
	pods, err := r.client.CoreV1().Pods(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(deploy.Spec.Selector.MatchLabels).String(),
	})
	if err != nil {
		slog.Warn("list pods for status failed", "deployment", deploy.Name, "error", err)
		return "", false
	}

	for _, pod := range pods.Items {
		for _, cs := range pod.Status.InitContainerStatuses {
			if w := cs.State.Waiting; w != nil && w.Reason == "CrashLoopBackOff" {
				return fmt.Sprintf("init container %s in pod %s: CrashLoopBackOff: %s", cs.Name, pod.Name, w.Message), true
			}
		}
		for _, cs := range pod.Status.ContainerStatuses {
			w := cs.State.Waiting
			if w == nil {
				continue
			}
			switch w.Reason {
			case "CrashLoopBackOff":
				return fmt.Sprintf("container %s in pod %s: CrashLoopBackOff: %s", cs.Name, pod.Name, w.Message), true
			case "ImagePullBackOff", "ErrImagePull", "InvalidImageName":
				return fmt.Sprintf("failed to pull image for pod %s: %s: %s", pod.Name, w.Reason, w.Message), true
			}
		}
	}
	return "", false
}

func (r *K8sStatusResolver) JobStatus(ctx context.Context, jobName string) (domain.ResourceStatus, error) {
	job, err := r.client.BatchV1().Jobs(r.namespace).Get(ctx, jobName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return domain.ResourceStatus{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.ResourceStatus{}, fmt.Errorf("get job %s: %w", jobName, err)
	}

	status, msg := jobToStatus(job)
	switch status {
	case domain.BuildStatusSucceeded:
		return domain.ResourceStatus{Status: domain.JobStatusCompleted, Phase: domain.PhaseSucceeded, Message: "build succeeded"}, nil
	case domain.BuildStatusFailed:
		if msg == "" {
			msg = "build failed"
		}
		return failedStatus(msg), nil
	case domain.BuildStatusRunning:
		return domain.ResourceStatus{Status: domain.JobStatusRunning, Phase: domain.PhaseRunning, Message: "build running"}, nil
	default:
		return domain.ResourceStatus{Status: domain.JobStatusRunning, Phase: domain.PhasePending, Message: "build pending"}, nil
	}
}
