package cluster

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrControlPlaneUnavailable はステータス問い合わせが到達不能、または不正な応答だったことを示す
var ErrControlPlaneUnavailable = errors.New("control plane unavailable")

type statusDocument struct {
	Cluster *struct {
		Processes map[string]struct {
			Address  string         `json:"address"`
			Locality map[string]any `json:"locality"`
			Roles    []struct {
				Role string `json:"role"`
			} `json:"roles"`
			Excluded bool `json:"excluded"`
		} `json:"processes"`
		RecoveryState *struct {
			Name              string   `json:"name"`
			ActiveGenerations int      `json:"active_generations"`
			LagSeconds        *float64 `json:"lag_seconds"`
		} `json:"recovery_state"`
		DatacenterLag *struct {
			Seconds float64 `json:"seconds"`
		} `json:"datacenter_lag"`
	} `json:"cluster"`
}

// ParseStatus は "status json" の出力をスナップショットに変換する
func ParseStatus(data []byte, takenAt time.Time) (*Snapshot, error) {
	var doc statusDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(ErrControlPlaneUnavailable, "malformed status: %v", err)
	}
	if doc.Cluster == nil {
		return nil, errors.Wrap(ErrControlPlaneUnavailable, "status has no cluster section")
	}
	rs := doc.Cluster.RecoveryState
	if rs == nil || rs.Name == "" {
		return nil, errors.Wrap(ErrControlPlaneUnavailable, "status has no recovery_state.name")
	}

	snap := &Snapshot{
		Members: make(map[string]Member, len(doc.Cluster.Processes)),
		Recovery: RecoveryState{
			Name:              rs.Name,
			ActiveGenerations: rs.ActiveGenerations,
		},
		TakenAt: takenAt,
	}

	switch {
	case rs.LagSeconds != nil:
		snap.Recovery.Lag = *rs.LagSeconds
	case doc.Cluster.DatacenterLag != nil:
		snap.Recovery.Lag = doc.Cluster.DatacenterLag.Seconds
	}

	for id, p := range doc.Cluster.Processes {
		m := Member{
			ID:       id,
			Address:  p.Address,
			Locality: make(map[string]string, len(p.Locality)),
			Excluded: p.Excluded,
		}
		if m.Address == "" {
			m.Address = id
		}
		for k, v := range p.Locality {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				m.Locality[k] = s
			} else {
				m.Locality[k] = fmt.Sprint(v)
			}
		}
		for _, r := range p.Roles {
			m.Roles = append(m.Roles, r.Role)
		}
		snap.Members[id] = m
	}

	return snap, nil
}
