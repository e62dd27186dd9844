package tasks

import (
	"fmt"
	"strings"

	"github.com/airbytehq/airbyte-platform/internal/engine"
	"github.com/airbytehq/airbyte-platform/internal/settings"
	"golang.org/x/crypto/bcrypt"
)

const (
	ProxyAlias        = "airbyte-proxy-test-container"
	ProxyNewPassAlias = "airbyte-proxy-test-container-newpass"
	ProxyNoAuthAlias  = "airbyte-proxy-test-container-noauth"

	proxyPort     = 80
	proxyConfPath = "/etc/nginx/nginx.conf"
	proxyHtpasswd = "/etc/nginx/.htpasswd"

	upstreamName = "airbyte"
	upstreamAddr = "127.0.0.1:8080"
)

// proxyConf returns an nginx configuration reverse proxying port 80 to an
// upstream served by the same container on upstreamAddr. With auth set the
// proxy requires basic auth against proxyHtpasswd.
func proxyConf(auth bool, timeout int) string {
	var b strings.Builder
	b.WriteString("events {}\n")
	b.WriteString("http {\n")
	fmt.Fprintf(&b, "  keepalive_timeout %ds;\n", timeout)
	fmt.Fprintf(&b, "  send_timeout %ds;\n", timeout)
	fmt.Fprintf(&b, "  upstream %s {\n", upstreamName)
	fmt.Fprintf(&b, "    server %s;\n", upstreamAddr)
	b.WriteString("  }\n")
	b.WriteString("  server {\n")
	fmt.Fprintf(&b, "    listen %d;\n", proxyPort)
	b.WriteString("    location / {\n")
	if auth {
		b.WriteString("      auth_basic \"airbyte\";\n")
		fmt.Fprintf(&b, "      auth_basic_user_file %s;\n", proxyHtpasswd)
	}
	fmt.Fprintf(&b, "      proxy_pass http://%s;\n", upstreamName)
	b.WriteString("      proxy_set_header Host $host;\n")
	fmt.Fprintf(&b, "      proxy_connect_timeout %ds;\n", timeout)
	fmt.Fprintf(&b, "      proxy_read_timeout %ds;\n", timeout)
	fmt.Fprintf(&b, "      proxy_send_timeout %ds;\n", timeout)
	b.WriteString("    }\n")
	b.WriteString("  }\n")
	b.WriteString("  server {\n")
	fmt.Fprintf(&b, "    listen %s;\n", upstreamAddr)
	b.WriteString("    location / {\n")
	b.WriteString("      root /usr/share/nginx/html;\n")
	b.WriteString("    }\n")
	b.WriteString("  }\n")
	b.WriteString("}\n")
	return b.String()
}

func htpasswd(user, password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing proxy password: %w", err)
	}
	return []byte(user + ":" + string(hash) + "\n"), nil
}

func proxyService(s *settings.Settings, alias, password string, auth bool) (engine.Service, error) {
	timeout := max(int(s.Proxy.Timeout.Seconds()), 1)
	svc := engine.Service{
		Alias: alias,
		Image: s.Images.Proxy,
		Port:  proxyPort,
		Files: []engine.File{{Path: proxyConfPath, Content: []byte(proxyConf(auth, timeout)), Mode: 0o644}},
	}
	if auth {
		b, err := htpasswd(s.Proxy.User, password)
		if err != nil {
			return engine.Service{}, err
		}
		svc.Files = append(svc.Files, engine.File{Path: proxyHtpasswd, Content: b, Mode: 0o644})
	}
	return svc, nil
}

// proxyServices returns the proxies the backend tests authenticate against:
// basic auth, basic auth with the new password and no auth.
func proxyServices(s *settings.Settings) ([]engine.Service, error) {
	basic, err := proxyService(s, ProxyAlias, s.Proxy.Password, true)
	if err != nil {
		return nil, err
	}
	newPass, err := proxyService(s, ProxyNewPassAlias, s.Proxy.NewPassword, true)
	if err != nil {
		return nil, err
	}
	noAuth, err := proxyService(s, ProxyNoAuthAlias, "", false)
	if err != nil {
		return nil, err
	}
	return []engine.Service{basic, newPass, noAuth}, nil
}
