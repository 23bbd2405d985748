package simcluster

import (
	"fmt"

	"kvstorm/internal/cluster"
)

// MemberSpec はトポロジ上の1メンバー
type MemberSpec struct {
	ID       string            `json:"id" yaml:"id" mapstructure:"id"`
	Address  string            `json:"address" yaml:"address" mapstructure:"address"`
	Locality map[string]string `json:"locality" yaml:"locality" mapstructure:"locality"`
	Roles    []string          `json:"roles" yaml:"roles" mapstructure:"roles"`
}

// Topology はクラスタ構成
type Topology []MemberSpec

// DefaultTopology は2リージョン・各3プロセスの構成を返す
func DefaultTopology() Topology {
	var t Topology
	port := 4500
	for _, dc := range []string{"dc1", "dc2"} {
		roles := [][]string{
			{RoleLog, RoleCommitProxy},
			{RoleStorage, "resolver"},
			{RoleStorage},
		}
		for i, r := range roles {
			t = append(t, MemberSpec{
				ID:       fmt.Sprintf("%s-%c", dc, 'a'+i),
				Address:  fmt.Sprintf("127.0.0.1:%d", port),
				Locality: map[string]string{cluster.DefaultLocalityKey: dc, "zoneid": fmt.Sprintf("%s-z%d", dc, i)},
				Roles:    r,
			})
			port++
		}
	}
	return t
}

// NewFromTopology はトポロジからクラスタを作る
func NewFromTopology(t Topology, config Config) (*Cluster, error) {
	c := New(config)
	for _, spec := range t {
		if err := c.AddMember(NewMember(spec.ID, spec.Address, spec.Locality, spec.Roles...)); err != nil {
			return nil, err
		}
	}
	return c, nil
}
