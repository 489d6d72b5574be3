package kubernetes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/chiwei-platform/deployd/internal/metrics"
	"github.com/chiwei-platform/deployd/internal/port"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/client-go/kubernetes"
)

var _ port.Deployer = (*K8sDeployer)(nil)

const defaultNamespace = "default"

type K8sDeployer struct {
	client    kubernetes.Interface
	namespace string
	ingress   IngressOptions
}

func NewK8sDeployer(client kubernetes.Interface, namespace string, ingress IngressOptions) *K8sDeployer {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &K8sDeployer{client: client, namespace: namespace, ingress: ingress}
}

type convergeStep struct {
	kind  domain.ResourceKind
	name  string
	apply func(ctx context.Context) (domain.ConvergeAction, error)
}

// Deploy 依次收敛 Deployment → Service → Ingress。
// 某一步失败后其余资源标记为 skipped，已写入的资源不回滚。
func (d *K8sDeployer) Deploy(ctx context.Context, spec domain.DeploySpec) (*domain.ConvergenceReport, error) {
	steps := []convergeStep{
		{domain.KindDeployment, spec.AppName, func(ctx context.Context) (domain.ConvergeAction, error) {
			return d.applyDeployment(ctx, spec)
		}},
		{domain.KindService, spec.AppName, func(ctx context.Context) (domain.ConvergeAction, error) {
			return d.applyService(ctx, spec)
		}},
		{domain.KindIngress, IngressName(spec.AppName), func(ctx context.Context) (domain.ConvergeAction, error) {
			return d.applyIngress(ctx, spec)
		}},
	}

	report := &domain.ConvergenceReport{}
	var failed error
	for _, step := range steps {
		if failed != nil {
			report.Add(step.kind, step.name, domain.ActionSkipped, nil)
			metrics.ConvergenceTotal.WithLabelValues(string(step.kind), string(domain.ActionSkipped)).Inc()
			continue
		}

		action, err := step.apply(ctx)
		report.Add(step.kind, step.name, action, err)
		metrics.ConvergenceTotal.WithLabelValues(string(step.kind), string(action)).Inc()
		if err != nil {
			failed = fmt.Errorf("apply %s: %w", step.kind, err)
			slog.Error("resource convergence failed", "kind", step.kind, "name", step.name, "error", err)
			continue
		}
		slog.Info("resource converged", "kind", step.kind, "name", step.name, "action", action)
	}
	return report, failed
}

func (d *K8sDeployer) applyDeployment(ctx context.Context, spec domain.DeploySpec) (domain.ConvergeAction, error) {
	return converge[*appsv1.Deployment](ctx,
		d.client.AppsV1().Deployments(d.namespace),
		BuildDeployment(spec, d.namespace),
		nil,
	)
}

func (d *K8sDeployer) applyService(ctx context.Context, spec domain.DeploySpec) (domain.ConvergeAction, error) {
	return converge[*corev1.Service](ctx,
		d.client.CoreV1().Services(d.namespace),
		BuildService(spec, d.namespace),
		carryServiceIPs,
	)
}

func (d *K8sDeployer) applyIngress(ctx context.Context, spec domain.DeploySpec) (domain.ConvergeAction, error) {
	return converge[*networkingv1.Ingress](ctx,
		d.client.NetworkingV1().Ingresses(d.namespace),
		BuildIngress(spec, d.namespace, d.ingress),
		nil,
	)
}

// clusterIP 由 API Server 分配且不可修改，替换时必须沿用。
func carryServiceIPs(existing, desired *corev1.Service) {
	desired.Spec.ClusterIP = existing.Spec.ClusterIP
	desired.Spec.ClusterIPs = existing.Spec.ClusterIPs
}
