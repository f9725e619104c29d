package models

// TransferParams contains the parameters needed to transfer one Notion database
type TransferParams struct {
	SourceToken           string `json:"-"`
	DestinationToken      string `json:"-"`
	SourceDatabaseID      string `json:"sourceDatabaseId"`
	DestinationDatabaseID string `json:"destinationDatabaseId"`
	ForwardChildren       bool   `json:"forwardChildren,omitempty"`
	NotifyEvery           int    `json:"notifyEvery,omitempty"`
}

// TransferStatus describes how a collection transfer ended
type TransferStatus string

const (
	StatusDone                TransferStatus = "done"
	StatusNoData              TransferStatus = "no_data"
	StatusCompletedWithErrors TransferStatus = "completed_with_errors"
	StatusFatal               TransferStatus = "fatal"
)

// CollectionTransferResult contains the result of a single database transfer
type CollectionTransferResult struct {
	SourceDatabaseID      string         `json:"sourceDatabaseId"`
	DestinationDatabaseID string         `json:"destinationDatabaseId"`
	Status                TransferStatus `json:"status"`
	TransferredCount      int            `json:"transferredCount"`
	SkippedCount          int            `json:"skippedCount"`
	FailedCount           int            `json:"failedCount"`
	PagesFetched          int            `json:"pagesFetched"`
	Success               bool           `json:"success"`
	ErrorMessage          string         `json:"errorMessage,omitempty"`
}

// TransferResult contains the overall result of a transfer invocation
type TransferResult struct {
	CollectionResults []CollectionTransferResult `json:"collectionResults"`
	OverallSuccess    bool                       `json:"overallSuccess"`
	TotalTransferred  int                        `json:"totalTransferred"`
	TotalFailed       int                        `json:"totalFailed"`
}
