package entities

import "time"

// ScanStatus summarizes the last completed scan of the detector.
type ScanStatus struct {
	Tip          BlockRef  `json:"tip"`
	Quota        ScanQuota `json:"quota"`
	LowestHeight uint64    `json:"lowestHeight"`
	Blocks       int       `json:"blocks"`
	Invalid      int       `json:"invalid"`
	Inliers      int       `json:"inliers"`
	Outliers     int       `json:"outliers"`
	FinishedAt   time.Time `json:"finishedAt"`
}
