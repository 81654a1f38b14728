package entities

type Action string

const (
	ActionInvalid Action = "INVALID_TRANSACTION"
	ActionNone    Action = "NONE"
	ActionWarn    Action = "WARN"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityCritical Severity = "CRITICAL"
)

// FeatureSummary holds the feature values that drove a classification. Values are in satoshi.
type FeatureSummary struct {
	NumberOfAddresses int     `json:"numberOfAddresses"`
	TotalOutValue     int64   `json:"totalOutValue"`
	TotalOutValueBtc  float64 `json:"totalOutValueBtc"`
}

type Report struct {
	TransactionHex  string          `json:"transactionHex"`
	TransactionHash string          `json:"transactionHash"`
	Action          Action          `json:"action"`
	Severity        Severity        `json:"severity"`
	Message         string          `json:"message"`
	Features        *FeatureSummary `json:"features,omitempty"`
}

type Classification struct {
	Invalid  []Report `json:"invalid"`
	Inliers  []Report `json:"inliers"`
	Outliers []Report `json:"outliers"`
}

func (c Classification) Len() int {
	return len(c.Invalid) + len(c.Inliers) + len(c.Outliers)
}

// All returns invalid, inlier and outlier reports, in that order.
func (c Classification) All() []Report {
	all := make([]Report, 0, c.Len())
	all = append(all, c.Invalid...)
	all = append(all, c.Inliers...)
	all = append(all, c.Outliers...)
	return all
}
