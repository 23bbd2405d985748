package locator

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"kvstorm/internal/cluster"
	"kvstorm/internal/logger"
)

const (
	DefaultServerName = "fdbserver"
	DefaultStaleAfter = 6 * time.Second

	portMapKey = "ports"
)

// OSConfig は OSLocator の設定
type OSConfig struct {
	ServerName string
	StaleAfter time.Duration
}

// portScanner はリッスンポートからPIDへの対応を返す
type portScanner func(ctx context.Context, serverName string) (map[int]int32, error)

// OSLocator はローカルのサーバープロセスを列挙してメンバーを解決する
type OSLocator struct {
	probe cluster.Probe
	cfg   OSConfig
	ports *cache.Cache
	scan  portScanner
}

var _ Locator = (*OSLocator)(nil)

// NewOSLocator は新しいOSLocatorを作成する
func NewOSLocator(probe cluster.Probe, cfg OSConfig) *OSLocator {
	if cfg.ServerName == "" {
		cfg.ServerName = DefaultServerName
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &OSLocator{
		probe: probe,
		cfg:   cfg,
		ports: cache.New(cfg.StaleAfter, 2*cfg.StaleAfter),
		scan:  scanListeningPorts,
	}
}

// MembersInLocality implements Locator
func (l *OSLocator) MembersInLocality(ctx context.Context, sel cluster.Selector) ([]Target, error) {
	snap, err := l.probe.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	ports, err := l.PortMap(ctx)
	if err != nil {
		return nil, err
	}

	var targets []Target
	for _, m := range snap.Select(sel) {
		port, err := m.Port()
		if err != nil {
			logger.Warn(m.ID, "Skipping member with unparsable address %q", m.Address)
			continue
		}
		pid, ok := ports[port]
		if !ok {
			logger.Debug(m.ID, "No local process listening on port %d", port)
			continue
		}
		targets = append(targets, Target{
			MemberID: m.ID,
			Address:  m.Address,
			Port:     port,
			Handle:   NewPIDHandle(pid),
		})
	}
	SortTargets(targets)
	return targets, nil
}

// PortMap はキャッシュ済みのポート→PIDマップを返し、古ければ再構築する
func (l *OSLocator) PortMap(ctx context.Context) (map[int]int32, error) {
	if v, ok := l.ports.Get(portMapKey); ok {
		return v.(map[int]int32), nil
	}
	ports, err := l.scan(ctx, l.cfg.ServerName)
	if err != nil {
		return nil, err
	}
	l.ports.Set(portMapKey, ports, cache.DefaultExpiration)
	logger.Debug("", "Rebuilt port map for %s (%d ports)", l.cfg.ServerName, len(ports))
	return ports, nil
}

// Invalidate はキャッシュを破棄する
func (l *OSLocator) Invalidate() {
	l.ports.Delete(portMapKey)
}

func scanListeningPorts(ctx context.Context, serverName string) (map[int]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "enumerate processes")
	}

	ports := make(map[int]int32)
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name != serverName {
			// 権限がない、または途中で終了したプロセスは無視する
			continue
		}
		conns, err := net.ConnectionsPidWithContext(ctx, "inet", p.Pid)
		if err != nil {
			continue
		}
		for _, c := range conns {
			if c.Status == "LISTEN" && c.Laddr.Port != 0 {
				ports[int(c.Laddr.Port)] = p.Pid
			}
		}
	}
	return ports, nil
}
