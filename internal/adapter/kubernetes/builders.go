package kubernetes

import (
	"fmt"

	"github.com/chiwei-platform/deployd/internal/domain"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const (
	labelApp      = "app"
	containerName = "app"
	servicePort   = 80

	annotationSSLRedirect      = "nginx.ingress.kubernetes.io/ssl-redirect"
	annotationForceSSLRedirect = "nginx.ingress.kubernetes.io/force-ssl-redirect"
	annotationClusterIssuer    = "cert-manager.io/cluster-issuer"
)

// IngressOptions 是集群级别的 Ingress 配置，与单次请求无关。
type IngressOptions struct {
	ClassName     string
	TLS           bool
	ClusterIssuer string
}

func appLabels(appName string) map[string]string {
	return map[string]string{labelApp: appName}
}

// IngressName 返回应用 Ingress 的资源名。
func IngressName(appName string) string {
	return fmt.Sprintf("%s-ingress", appName)
}

func tlsSecretName(appName string) string {
	return fmt.Sprintf("%s-tls", appName)
}

// BuildDeployment 构造单副本 Deployment。文档里不放 JobID 等请求级数据，保证重复收敛不产生变更。
func BuildDeployment(spec domain.DeploySpec, namespace string) *appsv1.Deployment {
	replicas := int32(1)
	labels := appLabels(spec.AppName)

	var pullSecrets []corev1.LocalObjectReference
	if spec.RegistryAuth != "" {
		pullSecrets = []corev1.LocalObjectReference{{Name: spec.RegistryAuth}}
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.AppName,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: appLabels(spec.AppName)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: appLabels(spec.AppName)},
				Spec: corev1.PodSpec{
					ImagePullSecrets: pullSecrets,
					Containers: []corev1.Container{
						{
							Name:  containerName,
							Image: spec.Image,
							Ports: []corev1.ContainerPort{
								{ContainerPort: int32(spec.Port)},
							},
						},
					},
				},
			},
		},
	}
}

// BuildService 构造 ClusterIP Service：80 端口转发到容器端口。
func BuildService(spec domain.DeploySpec, namespace string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.AppName,
			Namespace: namespace,
			Labels:    appLabels(spec.AppName),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: appLabels(spec.AppName),
			Ports: []corev1.ServicePort{
				{
					Name:       "http",
					Protocol:   corev1.ProtocolTCP,
					Port:       servicePort,
					TargetPort: intstr.FromInt32(int32(spec.Port)),
				},
			},
		},
	}
}

// BuildIngress 构造单 host 的 Ingress，"/" 前缀转发到同名 Service。
func BuildIngress(spec domain.DeploySpec, namespace string, opts IngressOptions) *networkingv1.Ingress {
	pathType := networkingv1.PathTypePrefix

	ing := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      IngressName(spec.AppName),
			Namespace: namespace,
			Labels:    appLabels(spec.AppName),
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{
				{
					Host: spec.Domain,
					IngressRuleValue: networkingv1.IngressRuleValue{
						HTTP: &networkingv1.HTTPIngressRuleValue{
							Paths: []networkingv1.HTTPIngressPath{
								{
									Path:     "/",
									PathType: &pathType,
									Backend: networkingv1.IngressBackend{
										Service: &networkingv1.IngressServiceBackend{
											Name: spec.AppName,
											Port: networkingv1.ServiceBackendPort{Number: servicePort},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	if opts.ClassName != "" {
		className := opts.ClassName
		ing.Spec.IngressClassName = &className
	}

	if opts.TLS {
		ing.Annotations = map[string]string{
			annotationSSLRedirect:      "true",
			annotationForceSSLRedirect: "true",
		}
		if opts.ClusterIssuer != "" {
			ing.Annotations[annotationClusterIssuer] = opts.ClusterIssuer
		}
		ing.Spec.TLS = []networkingv1.IngressTLS{
			{
				Hosts:      []string{spec.Domain},
				SecretName: tlsSecretName(spec.AppName),
			},
		}
	}
	return ing
}
