package entities

// UnknownTxID is used when a transaction failed to decode before an identifier could be recovered.
const UnknownTxID = "unknown"

// Unit names the denomination of output values.
type Unit string

const (
	UnitSatoshi Unit = "satoshi"
	UnitBTC     Unit = "btc"
)

type BlockRef struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// RawTx is one entry of a block page as delivered by the chain source, before decoding.
type RawTx struct {
	ID      string
	Payload string
}

type Input struct {
	PrevTxID  string `json:"prevTxId"`
	PrevIndex uint32 `json:"prevIndex"`
}

type Output struct {
	Value float64 `json:"value"`
}

// TxRecord is a decoded transaction. Invalid records only carry ID and Raw.
type TxRecord struct {
	ID      string   `json:"txid"`
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
	Raw     string   `json:"raw"`
	Valid   bool     `json:"valid"`
	Unit    Unit     `json:"unit"`
}

type FeatureVector struct {
	NAddresses int     `json:"numberOfAddresses"`
	TotOutVal  float64 `json:"totalOutValue"`
	Unit       Unit    `json:"unit"`
}

// Label values follow the usual outlier detector convention: -1 outlier, 1 inlier.
type Label int8

const (
	LabelNone    Label = 0
	LabelInlier  Label = 1
	LabelOutlier Label = -1
)

func (l Label) String() string {
	switch l {
	case LabelInlier:
		return "inlier"
	case LabelOutlier:
		return "outlier"
	default:
		return "none"
	}
}

type ScoredTx struct {
	Tx       TxRecord
	Features FeatureVector
	Label    Label
}

type ScanQuota struct {
	Requested int `json:"requested"`
	Collected int `json:"collected"`
}

func (q ScanQuota) Remaining() int {
	return max(q.Requested-q.Collected, 0)
}

func (q ScanQuota) Satisfied() bool {
	return q.Collected >= q.Requested
}

type ScanResult struct {
	Tip     BlockRef
	Records []TxRecord
	Visited []uint64
	Quota   ScanQuota
}
