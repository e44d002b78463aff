package detection

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/pkg/bloomfilter"
)

var builtinDisposableDomains = []string{
	"mailinator.com", "guerrillamail.com", "guerrillamail.net", "sharklasers.com",
	"10minutemail.com", "10minutemail.net", "tempmail.com", "temp-mail.org",
	"throwawaymail.com", "yopmail.com", "yopmail.net", "trashmail.com",
	"getnada.com", "dispostable.com", "maildrop.cc", "mailnesia.com",
	"mintemail.com", "fakeinbox.com", "spamgourmet.com", "mohmal.com",
	"emailondeck.com", "tempr.email", "discard.email", "moakt.com",
	"tempail.com", "mailcatch.com", "burnermail.io", "33mail.com",
}

type domainSet struct {
	bloom *bloomfilter.Filter
	exact map[string]struct{}
}

func newDomainSet(domains []string) *domainSet {
	exact := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = normalizeDomain(d)
		if d != "" {
			exact[d] = struct{}{}
		}
	}
	keys := make([]string, 0, len(exact))
	for d := range exact {
		keys = append(keys, d)
	}
	return &domainSet{bloom: bloomfilter.FromStrings(keys, 0.001), exact: exact}
}

// DisposableDomains is the set of throwaway email providers. Lookups are
// lock-free; reloads build a new set and swap it in.
type DisposableDomains struct {
	data   atomic.Pointer[domainSet]
	loadMu sync.Mutex
}

func NewDisposableDomains(extra ...string) *DisposableDomains {
	d := &DisposableDomains{}
	d.data.Store(newDomainSet(append(append([]string(nil), builtinDisposableDomains...), extra...)))
	return d
}

// Contains reports whether domain or any parent domain is disposable.
func (d *DisposableDomains) Contains(domain string) bool {
	set := d.data.Load()
	domain = normalizeDomain(domain)
	for domain != "" {
		if set.bloom.MayContain(domain) {
			if _, ok := set.exact[domain]; ok {
				return true
			}
		}
		i := strings.IndexByte(domain, '.')
		if i < 0 {
			break
		}
		domain = domain[i+1:]
		if !strings.Contains(domain, ".") {
			break
		}
	}
	return false
}

func (d *DisposableDomains) Count() int {
	return len(d.data.Load().exact)
}

func hasParentSegment(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// LoadFile replaces the set with the built-in list plus the domains in path,
// one per line. Blank lines and lines starting with # are skipped. A missing
// file keeps the current set.
func (d *DisposableDomains) LoadFile(ctx context.Context, path string) error {
	d.loadMu.Lock()
	defer d.loadMu.Unlock()

	cleanPath := filepath.Clean(path)
	if hasParentSegment(cleanPath) {
		return fmt.Errorf("path traversal detected in disposable domain list path: %q", path)
	}

	file, err := os.Open(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", path).Msg("Disposable domain list not found, using built-in list")
			return nil
		}
		return err
	}
	defer file.Close()

	domains := append([]string(nil), builtinDisposableDomains...)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	set := newDomainSet(domains)
	d.data.Store(set)

	log.Info().Int("count", len(set.exact)).Str("file", path).Msg("Loaded disposable email domains")
	return nil
}

func normalizeDomain(d string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
}
