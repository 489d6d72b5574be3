package kubernetes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/chiwei-platform/deployd/internal/domain"
	"github.com/chiwei-platform/deployd/internal/port"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
)

var _ port.BuildExecutor = (*KanikoBuildExecutor)(nil)

const (
	labelJobID            = "deployd.chiwei/job-id"
	annotationDeploySpec  = "deployd.chiwei/deploy-spec"
	defaultKanikoImage    = "gcr.io/kaniko-project/executor:latest"
	kanikoContainerName   = "kaniko"
	buildTTLSeconds       = int32(3600)
	dockerConfigMountPath = "/kaniko/.docker"
)

type KanikoBuildExecutor struct {
	client             kubernetes.Interface
	namespace          string
	kanikoImage        string
	registrySecret     string
	registryMirrors    []string
	insecureRegistries []string
	httpProxy          string
	noProxy            string
}

type KanikoBuildConfig struct {
	Namespace          string
	KanikoImage        string
	RegistrySecret     string
	RegistryMirrors    []string
	InsecureRegistries []string
	HttpProxy          string
	NoProxy            string
}

func NewKanikoBuildExecutor(client kubernetes.Interface, cfg KanikoBuildConfig) *KanikoBuildExecutor {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultNamespace
	}
	if cfg.KanikoImage == "" {
		cfg.KanikoImage = defaultKanikoImage
	}
	return &KanikoBuildExecutor{
		client:             client,
		namespace:          cfg.Namespace,
		kanikoImage:        cfg.KanikoImage,
		registrySecret:     cfg.RegistrySecret,
		registryMirrors:    cfg.RegistryMirrors,
		insecureRegistries: cfg.InsecureRegistries,
		httpProxy:          cfg.HttpProxy,
		noProxy:            cfg.NoProxy,
	}
}

// Submit 创建以 JobID 命名的 Kaniko Job，部署意图以 JSON 存进注解，构建完成后据此收敛。
func (e *KanikoBuildExecutor) Submit(ctx context.Context, sub *port.BuildSubmission) (string, error) {
	specJSON, err := json.Marshal(sub.Spec)
	if err != nil {
		return "", fmt.Errorf("encode deploy spec: %w", err)
	}

	ttl := buildTTLSeconds
	backoff := int32(0)
	labels := map[string]string{labelJobID: sub.JobID}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        sub.JobID,
			Namespace:   e.namespace,
			Labels:      labels,
			Annotations: map[string]string{annotationDeploySpec: string(specJSON)},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       e.podSpec(kanikoArgs(sub, e.registryMirrors, e.insecureRegistries)),
			},
		},
	}

	if _, err := e.client.BatchV1().Jobs(e.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return "", fmt.Errorf("create kaniko job %s: %w", sub.JobID, err)
	}
	return sub.JobID, nil
}

func kanikoArgs(sub *port.BuildSubmission, mirrors, insecure []string) []string {
	gitContext := sub.Source.GitRepo
	if strings.HasPrefix(gitContext, "https://") || strings.HasPrefix(gitContext, "http://") {
		gitContext = "git://" + strings.TrimPrefix(strings.TrimPrefix(gitContext, "https://"), "http://")
	}

	args := []string{
		fmt.Sprintf("--context=%s#%s", gitContext, normalizeGitRef(sub.Source.GitRef)),
		fmt.Sprintf("--destination=%s", sub.Spec.Image),
		"--cache=true",
	}

	// 指定子目录作为构建上下文，Kaniko 会在子目录下查找 Dockerfile
	if dir := sub.Source.ContextDir; dir != "" && dir != "." {
		args = append(args, fmt.Sprintf("--context-sub-path=%s", dir))
	}
	for _, mirror := range mirrors {
		args = append(args, fmt.Sprintf("--registry-mirror=%s", mirror))
	}
	for _, reg := range insecure {
		args = append(args, fmt.Sprintf("--insecure-registry=%s", reg))
		args = append(args, fmt.Sprintf("--skip-tls-verify-registry=%s", reg))
	}
	return args
}

// normalizeGitRef 把 branch / tag 补全为完整 ref，commit hash 原样使用。
func normalizeGitRef(ref string) string {
	switch {
	case ref == "":
		return "refs/heads/main"
	case strings.HasPrefix(ref, "refs/"), isCommitHash(ref):
		return ref
	case looksLikeTag(ref):
		return "refs/tags/" + ref
	default:
		return "refs/heads/" + ref
	}
}

func (e *KanikoBuildExecutor) podSpec(args []string) corev1.PodSpec {
	spec := corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyNever,
		Containers: []corev1.Container{
			{
				Name:  kanikoContainerName,
				Image: e.kanikoImage,
				Args:  args,
			},
		},
	}
	if e.httpProxy != "" {
		spec.Containers[0].Env = append(spec.Containers[0].Env,
			corev1.EnvVar{Name: "HTTP_PROXY", Value: e.httpProxy},
			corev1.EnvVar{Name: "HTTPS_PROXY", Value: e.httpProxy},
			corev1.EnvVar{Name: "http_proxy", Value: e.httpProxy},
			corev1.EnvVar{Name: "https_proxy", Value: e.httpProxy},
		)
		if e.noProxy != "" {
			spec.Containers[0].Env = append(spec.Containers[0].Env,
				corev1.EnvVar{Name: "NO_PROXY", Value: e.noProxy},
				corev1.EnvVar{Name: "no_proxy", Value: e.noProxy},
			)
		}
	}
	if e.registrySecret != "" {
		volumeName := "docker-config"
		spec.Volumes = []corev1.Volume{
			{
				Name: volumeName,
				VolumeSource: corev1.VolumeSource{
					Secret: &corev1.SecretVolumeSource{
						SecretName: e.registrySecret,
						Items: []corev1.KeyToPath{
							{Key: ".dockerconfigjson", Path: "config.json"},
						},
					},
				},
			},
		}
		spec.Containers[0].VolumeMounts = []corev1.VolumeMount{
			{Name: volumeName, MountPath: dockerConfigMountPath, ReadOnly: true},
		}
	}
	return spec
}

// Watch 启动 Job Informer，监听带 JobID 标签的 Kaniko Job，状态变化时回调（同一状态只回调一次）。
func (e *KanikoBuildExecutor) Watch(ctx context.Context, callback port.BuildStatusCallback) error {
	factory := informers.NewSharedInformerFactoryWithOptions(
		e.client,
		0,
		informers.WithNamespace(e.namespace),
		informers.WithTweakListOptions(func(opts *metav1.ListOptions) {
			opts.LabelSelector = labelJobID
		}),
	)
	jobInformer := factory.Batch().V1().Jobs().Informer()
	tracker := newStatusTracker()

	_, err := jobInformer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		UpdateFunc: func(oldObj, newObj interface{}) {
			job, ok := newObj.(*batchv1.Job)
			if !ok {
				return
			}
			update, ok := jobToUpdate(job)
			if !ok || !tracker.changed(update.JobID, update.Status) {
				return
			}
			callback(ctx, update)
		},
		DeleteFunc: func(obj interface{}) {
			if tomb, ok := obj.(cache.DeletedFinalStateUnknown); ok {
				obj = tomb.Obj
			}
			if job, ok := obj.(*batchv1.Job); ok {
				tracker.forget(job.Labels[labelJobID])
			}
		},
	})
	if err != nil {
		return fmt.Errorf("add job event handler: %w", err)
	}

	factory.Start(ctx.Done())
	factory.WaitForCacheSync(ctx.Done())
	slog.Info("build watcher started", "namespace", e.namespace)

	<-ctx.Done()
	return ctx.Err()
}

// jobToUpdate 把带标签的 Job 转成状态变更；还没有可判定状态时返回 false。
func jobToUpdate(job *batchv1.Job) (port.BuildUpdate, bool) {
	jobID, ok := job.Labels[labelJobID]
	if !ok {
		return port.BuildUpdate{}, false
	}
	status, msg := jobToStatus(job)
	if status == "" {
		return port.BuildUpdate{}, false
	}

	update := port.BuildUpdate{JobID: jobID, Status: status, Message: msg}
	if raw, ok := job.Annotations[annotationDeploySpec]; ok {
		var spec domain.DeploySpec
		if err := json.Unmarshal([]byte(raw), &spec); err != nil {
			slog.Warn("decode deploy spec annotation failed", "job_id", jobID, "error", err)
		} else {
			update.Spec = &spec
		}
	}
	return update, true
}

// statusTracker 记录每个 Job 最后一次回调的状态，informer 的重复 Update 不会重复触发收敛。
type statusTracker struct {
	mu   sync.Mutex
	last map[string]domain.BuildStatus
}

func newStatusTracker() *statusTracker {
	return &statusTracker{last: make(map[string]domain.BuildStatus)}
}

func (t *statusTracker) changed(jobID string, status domain.BuildStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last[jobID] == status {
		return false
	}
	t.last[jobID] = status
	return true
}

func (t *statusTracker) forget(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, jobID)
}

func isCommitHash(ref string) bool {
	if len(ref) < 7 || len(ref) > 40 {
		return false
	}
	for _, c := range ref {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

func looksLikeTag(ref string) bool {
	return strings.HasPrefix(ref, "v") && len(ref) > 1 && ref[1] >= '0' && ref[1] <= '9'
}

func jobToStatus(job *batchv1.Job) (domain.BuildStatus, string) {
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobComplete && cond.Status == corev1.ConditionTrue {
			return domain.BuildStatusSucceeded, ""
		}
		if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
			return domain.BuildStatusFailed, cond.Message
		}
	}
	if job.Status.Active > 0 {
		return domain.BuildStatusRunning, ""
	}
	// backoffLimit 为 0，Pod 失败即构建失败，不必等 Failed condition
	if job.Status.Failed > 0 {
		return domain.BuildStatusFailed, "build pod failed"
	}
	return "", ""
}
