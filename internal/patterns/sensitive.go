package patterns

import (
	"strings"

	"github.com/gobwas/glob"
)

// Sensitive-path categories.
const (
	CategorySystemFile      = "system-file"
	CategorySSHKey          = "ssh-key"
	CategoryPrivateKey      = "private-key"
	CategoryCloudCredential = "cloud-credential"
	CategoryEnvFile         = "env-file"
)

type sensitiveGlob struct {
	pattern  string
	category string
	g        glob.Glob
}

// sensitivePaths covers credential material and system files an agent has
// no business touching. Globs are compiled with '/' as separator so "*"
// stays within one path segment and "**" crosses segments.
var sensitivePaths = func() []sensitiveGlob {
	specs := []struct{ pattern, category string }{
		{"/etc/passwd", CategorySystemFile},
		{"/etc/shadow", CategorySystemFile},
		{"/etc/sudoers*", CategorySystemFile},
		{"**/.ssh/**", CategorySSHKey},
		{".ssh/**", CategorySSHKey},
		{"**/id_rsa*", CategorySSHKey},
		{"**/id_ed25519*", CategorySSHKey},
		{"id_rsa*", CategorySSHKey},
		{"**/*.pem", CategoryPrivateKey},
		{"*.pem", CategoryPrivateKey},
		{"**/*.key", CategoryPrivateKey},
		{"*.key", CategoryPrivateKey},
		{"**/.aws/**", CategoryCloudCredential},
		{"**/.config/gcloud/**", CategoryCloudCredential},
		{"**/.kube/config", CategoryCloudCredential},
		{"**/.env", CategoryEnvFile},
		{"**/.env.*", CategoryEnvFile},
		{".env", CategoryEnvFile},
		{".env.*", CategoryEnvFile},
	}

	out := make([]sensitiveGlob, len(specs))
	for i, s := range specs {
		out[i] = sensitiveGlob{
			pattern:  s.pattern,
			category: s.category,
			g:        glob.MustCompile(s.pattern, '/'),
		}
	}
	return out
}()

// DetectSensitivePath scans text for references to sensitive files and
// returns the category and the offending token. Tokens are extracted from
// whitespace-split fields with quoting and common prefixes ("@" for curl
// upload syntax, "~" for home) stripped off.
func DetectSensitivePath(text string) (category, detail string, found bool) {
	for _, tok := range strings.Fields(text) {
		p := cleanPathToken(tok)
		if p == "" {
			continue
		}
		for _, sg := range sensitivePaths {
			if sg.g.Match(p) {
				return sg.category, p, true
			}
		}
	}
	return "", "", false
}

func cleanPathToken(tok string) string {
	tok = strings.Trim(tok, `"'`)
	tok = strings.TrimPrefix(tok, "@")
	tok = strings.TrimPrefix(tok, "~/")
	tok = strings.TrimPrefix(tok, "./")
	return tok
}
