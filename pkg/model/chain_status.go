package model

// ChainStatus is the operator view of one chain's ingestion progress.
type ChainStatus struct {
	ChainID           string
	Name              string
	FinalityModel     string
	LastIndexedHeight int64
	FinalizedHeight   int64
	LastError         string
}
