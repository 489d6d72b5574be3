package kubernetes

import (
	"context"
	"fmt"

	"github.com/chiwei-platform/deployd/internal/domain"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// resourceClient 是收敛所需的最小读写接口，client-go 的 typed client
// （DeploymentInterface、ServiceInterface、IngressInterface）直接满足。
type resourceClient[T metav1.Object] interface {
	Get(ctx context.Context, name string, opts metav1.GetOptions) (T, error)
	Create(ctx context.Context, obj T, opts metav1.CreateOptions) (T, error)
	Update(ctx context.Context, obj T, opts metav1.UpdateOptions) (T, error)
}

// converge 把 desired 写入集群：不存在则创建，存在则整体替换。
// 替换时带上现存对象的 resourceVersion，由 API Server 的乐观并发兜底，冲突直接返回，不重试。
// carry 用于保留服务端分配、不可修改的字段。
func converge[T metav1.Object](ctx context.Context, c resourceClient[T], desired T, carry func(existing, desired T)) (domain.ConvergeAction, error) {
	name := desired.GetName()

	existing, err := c.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := c.Create(ctx, desired, metav1.CreateOptions{}); err != nil {
			return domain.ActionFailed, fmt.Errorf("create %s: %w", name, err)
		}
		return domain.ActionCreated, nil
	}
	if err != nil {
		return domain.ActionFailed, fmt.Errorf("get %s: %w", name, err)
	}

	desired.SetResourceVersion(existing.GetResourceVersion())
	if carry != nil {
		carry(existing, desired)
	}
	if _, err := c.Update(ctx, desired, metav1.UpdateOptions{}); err != nil {
		return domain.ActionFailed, fmt.Errorf("replace %s: %w", name, err)
	}
	return domain.ActionReplaced, nil
}
