package finagosync

import "encoding/json"

type SyncModules struct {
	Companies    bool `json:"companies"`
	Persons      bool `json:"persons"`
	Invoices     bool `json:"invoices"`
	Products     bool `json:"products"`
	Transactions bool `json:"transactions"`
	Accounts     bool `json:"accounts"`
}

func DefaultModules() SyncModules {
	return SyncModules{
		Companies:    true,
		Persons:      true,
		Invoices:     true,
		Products:     true,
		Transactions: true,
		Accounts:     true,
	}
}

func DecodeModules(raw string) SyncModules {
	if raw == "" {
		return DefaultModules()
	}
	var mod SyncModules
	if err := json.Unmarshal([]byte(raw), &mod); err != nil {
		return DefaultModules()
	}
	return mod
}

func EncodeModules(mod SyncModules) string {
	b, _ := json.Marshal(mod)
	return string(b)
}

func (m SyncModules) IsEmpty() bool {
	return !m.Companies && !m.Persons && !m.Invoices && !m.Products &&
		!m.Transactions && !m.Accounts
}

type TriggerSyncRequest struct {
	Modules SyncModules `json:"modules"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	Status        string  `json:"status"`
	StartedAt     *string `json:"startedAt"`
	FinishedAt    *string `json:"finishedAt"`
	DurationMs    int64   `json:"durationMs"`
	RecordsSynced int     `json:"recordsSynced"`
	ErrorCount    int     `json:"errorCount"`
	TriggeredBy   string  `json:"triggeredBy"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	EntityType string `json:"entityType"`
	ExternalId string `json:"externalId"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId uint `json:"run_id"`
}
