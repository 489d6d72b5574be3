package domain

// ResourceKind 是收敛的三类资源，顺序即收敛顺序。
type ResourceKind string

const (
	KindDeployment ResourceKind = "Deployment"
	KindService    ResourceKind = "Service"
	KindIngress    ResourceKind = "Ingress"
)

type ConvergeAction string

const (
	ActionCreated  ConvergeAction = "created"
	ActionReplaced ConvergeAction = "replaced"
	ActionFailed   ConvergeAction = "failed"
	ActionSkipped  ConvergeAction = "skipped"
)

type ResourceOutcome struct {
	Kind   ResourceKind   `json:"kind"`
	Name   string         `json:"name"`
	Action ConvergeAction `json:"action"`
	Error  string         `json:"error,omitempty"`
}

// ConvergenceReport 记录每个资源的收敛结果。没有回滚，失败之前的资源保留在集群中。
type ConvergenceReport struct {
	Resources []ResourceOutcome `json:"resources"`
}

func (r *ConvergenceReport) Add(kind ResourceKind, name string, action ConvergeAction, err error) {
	o := ResourceOutcome{Kind: kind, Name: name, Action: action}
	if err != nil {
		o.Error = err.Error()
	}
	r.Resources = append(r.Resources, o)
}

// Succeeded 判断所有资源都已创建或替换。
func (r *ConvergenceReport) Succeeded() bool {
	if len(r.Resources) == 0 {
		return false
	}
	for _, o := range r.Resources {
		if o.Action != ActionCreated && o.Action != ActionReplaced {
			return false
		}
	}
	return true
}
