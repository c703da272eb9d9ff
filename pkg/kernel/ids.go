package kernel

type LeadID string

func NewLeadID(id string) LeadID { return LeadID(id) }
func (l LeadID) String() string  { return string(l) }
func (l LeadID) IsEmpty() bool   { return string(l) == "" }

type FlowID string

func NewFlowID(id string) FlowID { return FlowID(id) }
func (f FlowID) String() string  { return string(f) }
func (f FlowID) IsEmpty() bool   { return string(f) == "" }

type NodeID string

func NewNodeID(id string) NodeID { return NodeID(id) }
func (n NodeID) String() string  { return string(n) }
func (n NodeID) IsEmpty() bool   { return string(n) == "" }

type EdgeID string

func NewEdgeID(id string) EdgeID { return EdgeID(id) }
func (e EdgeID) String() string  { return string(e) }
func (e EdgeID) IsEmpty() bool   { return string(e) == "" }

type InstanceID string

func NewInstanceID(id string) InstanceID { return InstanceID(id) }
func (i InstanceID) String() string      { return string(i) }
func (i InstanceID) IsEmpty() bool       { return string(i) == "" }

type AdvisorID string

func NewAdvisorID(id string) AdvisorID { return AdvisorID(id) }
func (a AdvisorID) String() string     { return string(a) }
func (a AdvisorID) IsEmpty() bool      { return string(a) == "" }

type TriggerID string

func NewTriggerID(id string) TriggerID { return TriggerID(id) }
func (t TriggerID) String() string     { return string(t) }
func (t TriggerID) IsEmpty() bool      { return string(t) == "" }

type MessageID string

func NewMessageID(id string) MessageID { return MessageID(id) }
func (m MessageID) String() string     { return string(m) }
func (m MessageID) IsEmpty() bool      { return string(m) == "" }
