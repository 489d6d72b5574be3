package domain

import "fmt"

const (
	DefaultAppPort        = 3000
	DefaultRegistrySecret = "regcred"
)

// DeploySpec 是校验并补全默认值之后的部署意图，资源构造只依赖它。
type DeploySpec struct {
	AppName      string `json:"app_name"`
	Image        string `json:"image_name"`
	Port         int    `json:"port"`
	RegistryAuth string `json:"registry_auth,omitempty"`
	Domain       string `json:"domain"`
}

// DefaultDomain 拼出自动生成的访问域名：{app}.{baseDomain}。
func DefaultDomain(appName, baseDomain string) string {
	return fmt.Sprintf("%s.%s", appName, baseDomain)
}

// URL 返回应用的外部访问地址。
func (s *DeploySpec) URL(tls bool) string {
	scheme := "http"
	if tls {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, s.Domain)
}
