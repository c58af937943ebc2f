// Package procinfo is the Process/Signing Cache (spec.md §4.1): process
// metadata lookup by pid plus a TTL-cached code-signing verdict per
// executable path, so repeatedly-seen sockets don't re-invoke
// subprocesses every tick.
package procinfo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"time"

	"github.com/patrickmn/go-cache"
	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/serome111/portwatch/internal/model"
)

// ErrProcessGone is returned when the pid no longer exists by the time
// it is looked up (the process exited between enumeration and enrichment).
var ErrProcessGone = errors.New("procinfo: process no longer exists")

// exeRecentWindow is the "exe mtime within 72h" freshness window used
// by the risk scorer's fresh-binary signal (spec.md §4.3).
const exeRecentWindow = 72 * time.Hour

// Info is the process metadata attached to a ConnectionRow.
type Info struct {
	PID         int32
	ProcessName string
	User        string
	ExePath     string
	ParentPID   int32
	ParentName  string
	CreateTime  time.Time
}

// signer probes an executable's code-signing state. Implemented by
// signing_darwin.go (codesign/spctl/xattr) and signing_other.go (stub).
type signer interface {
	inspect(ctx context.Context, exePath string) model.SigningVerdict
}

// Cache is the Process/Signing Cache: a pid→Info lookup backed directly
// by the OS (no TTL needed — pid lookups are cheap and must be fresh)
// plus a TTL-cached exePath→SigningVerdict table (signing is expensive
// and stable for the lifetime of a binary on disk) and a TTL-cached
// exePath→fileVerdict table (hash + freshness, same rationale).
type Cache struct {
	signing *cache.Cache
	files   *cache.Cache
	signer  signer
}

// New constructs a Cache whose signing verdicts expire after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		signing: cache.New(ttl, ttl*2),
		files:   cache.New(ttl, ttl*2),
		signer:  platformSigner{},
	}
}

// Lookup resolves pid to process metadata via gopsutil.
func (c *Cache) Lookup(pid int32) (Info, error) {
	proc, err := gopsprocess.NewProcess(pid)
	if err != nil {
		return Info{}, ErrProcessGone
	}

	info := Info{PID: pid}
	if name, err := proc.Name(); err == nil {
		info.ProcessName = name
	}
	if exe, err := proc.Exe(); err == nil {
		info.ExePath = exe
	}
	if user, err := proc.Username(); err == nil {
		info.User = user
	}
	if ppid, err := proc.Ppid(); err == nil {
		info.ParentPID = ppid
		if pproc, err := gopsprocess.NewProcess(ppid); err == nil {
			if pname, err := pproc.Name(); err == nil {
				info.ParentName = pname
			}
		}
	}
	if ct, err := proc.CreateTime(); err == nil {
		info.CreateTime = time.UnixMilli(ct)
	}

	if info.ProcessName == "" && info.ExePath == "" {
		return Info{}, ErrProcessGone
	}
	return info, nil
}

// SignInfo returns the cached SigningVerdict for exePath, probing and
// caching it on first sight.
func (c *Cache) SignInfo(ctx context.Context, exePath string) model.SigningVerdict {
	if exePath == "" {
		return model.SigningVerdict{Unknown: true}
	}
	if v, found := c.signing.Get(exePath); found {
		return v.(model.SigningVerdict)
	}
	verdict := c.signer.inspect(ctx, exePath)
	c.signing.SetDefault(exePath, verdict)
	return verdict
}

// fileVerdict is the cached result of hashing and stat-ing an exe path.
type fileVerdict struct {
	Hash   string
	Recent bool
}

// ExeFile returns the cached SHA-256 hex digest of exePath's contents
// and whether its mtime falls within the fresh-binary window, probing
// and caching on first sight like SignInfo. A read or stat failure
// (file gone, permission denied) produces a negative, uncached verdict
// so a later tick can retry once the file is readable again.
func (c *Cache) ExeFile(exePath string) (hash string, recent bool) {
	if exePath == "" {
		return "", false
	}
	if v, found := c.files.Get(exePath); found {
		fv := v.(fileVerdict)
		return fv.Hash, fv.Recent
	}
	fv, ok := probeExeFile(exePath)
	if !ok {
		return "", false
	}
	c.files.SetDefault(exePath, fv)
	return fv.Hash, fv.Recent
}

func probeExeFile(exePath string) (fileVerdict, bool) {
	info, err := os.Stat(exePath)
	if err != nil {
		return fileVerdict{}, false
	}
	fv := fileVerdict{Recent: time.Since(info.ModTime()) < exeRecentWindow}

	f, err := os.Open(exePath)
	if err != nil {
		return fv, false
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fv, false
	}
	fv.Hash = hex.EncodeToString(h.Sum(nil))
	return fv, true
}

// ClearCache drops every cached signing verdict and file verdict,
// forcing re-inspection.
func (c *Cache) ClearCache() {
	c.signing.Flush()
	c.files.Flush()
}
