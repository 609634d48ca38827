package rules

import (
	"strings"

	"github.com/armon/go-radix"
)

// domainIndex answers "is host equal to, or a subdomain of, any configured
// domain" with one radix walk. Domains are stored label-reversed with a
// trailing dot ("example.com" -> "com.example."), so every parent domain of a
// host is a prefix of the host's reversed key.
type domainIndex struct {
	tree *radix.Tree
}

func newDomainIndex(domains []string) *domainIndex {
	tree := radix.New()
	for _, d := range domains {
		d = strings.Trim(strings.ToLower(d), ".")
		if d == "" {
			continue
		}
		tree.Insert(reverseLabels(d), struct{}{})
	}
	return &domainIndex{tree: tree}
}

// Match reports whether host is a configured domain or ends with "."+domain.
func (d *domainIndex) Match(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	found := false
	d.tree.WalkPath(reverseLabels(host), func(string, interface{}) bool {
		found = true
		return true
	})
	return found
}

// reverseLabels turns "a.b.c" into "c.b.a.".
func reverseLabels(domain string) string {
	labels := strings.Split(domain, ".")
	var b strings.Builder
	b.Grow(len(domain) + 1)
	for i := len(labels) - 1; i >= 0; i-- {
		b.WriteString(labels[i])
		b.WriteByte('.')
	}
	return b.String()
}
