package model

import "time"

type NodeData struct {
	Emails   Recipients   `json:"emails,omitempty" yaml:"emails,omitempty"`
	Subject  string       `json:"subject,omitempty" yaml:"subject,omitempty"`
	Body     string       `json:"body,omitempty" yaml:"body,omitempty"`
	Duration WaitDuration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Unit     string       `json:"unit,omitempty" yaml:"unit,omitempty"`
}

type Node struct {
	Id   string    `json:"id" yaml:"id"`
	Type BlockType `json:"type" yaml:"type"`
	Data NodeData  `json:"data" yaml:"data"`
}

func (n Node) ToBlock() Block {
	return Block{
		Type:     n.Type,
		Emails:   n.Data.Emails,
		Subject:  n.Data.Subject,
		Body:     n.Data.Body,
		Duration: n.Data.Duration,
		Unit:     n.Data.Unit,
	}
}

type Edge struct {
	Id     string `json:"id,omitempty" yaml:"id,omitempty"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

type Flow struct {
	Id        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Nodes     []Node    `json:"nodes" yaml:"nodes"`
	Edges     []Edge    `json:"edges" yaml:"edges"`
	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

type FlowSummary struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt"`
}
