package domain

// NodeKind classifies a node in the transaction network.
type NodeKind string

const (
	NodeBusiness        NodeKind = "business"
	NodeResetSubscriber NodeKind = "reset_subscriber"
	NodeCounterparty    NodeKind = "counterparty"
)

// Node is one identifier (MSISDN or shortcode) in the network.
type Node struct {
	ID    string   `json:"id"`
	Label string   `json:"label,omitempty"`
	Kind  NodeKind `json:"kind"`
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
}

// Edge aggregates every transaction from one reset subscriber to one credit party.
type Edge struct {
	Source         string      `json:"source"`
	Target         string      `json:"target"`
	SourceName     string      `json:"source_name,omitempty"`
	TargetName     string      `json:"target_name,omitempty"`
	Familiarity    Familiarity `json:"familiarity"`
	BeforeCount    int         `json:"before_count"`
	AfterCount     int         `json:"after_count"`
	Amount         int64       `json:"amount"`
	TransactionIDs []string    `json:"transaction_ids,omitempty"`
}

// Unfamiliar reports whether any post-event transaction on the edge was unfamiliar.
func (e Edge) Unfamiliar() bool {
	return e.Familiarity == FamiliarityUnfamiliar
}

// Graph is the subscriber transaction network.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}
