package falcon

// HostRecord is the vendor device-details record for a single agent.
type HostRecord struct {
	AgentID    string `json:"device_id"`
	CustomerID string `json:"cid"`
	Hostname   string `json:"hostname"`
	Platform   string `json:"platform_name"`
	OSVersion  string `json:"os_version"`
	CPUName    string `json:"system_product_name"`
}

// SessionInitResponse is the response to init_session.
type SessionInitResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// CommandSubmitResponse carries the cloud_request_id used to poll for a
// command's completion.
type CommandSubmitResponse struct {
	CloudRequestID string `json:"cloud_request_id"`
	QueuedCmdID    string `json:"queued_cmd_id"`
}

// CommandResult is the terminal state of a submitted command.
type CommandResult struct {
	Stdout         string `json:"stdout"`
	Stderr         string `json:"stderr"`
	ReturnCode     int    `json:"return_code"`
	CloudRequestID string `json:"cloud_request_id"`
	Complete       bool   `json:"complete"`
}

// SessionFile is an entry in list_session_files; once ingestion finishes it
// carries a SHA256 and becomes fetchable as an ExtractedFile.
type SessionFile struct {
	CloudRequestID string `json:"cloud_request_id"`
	SHA256         string `json:"sha256"`
	Name           string `json:"name"`
	Size           int64  `json:"size"`
}

// ExtractedFile is the output of get_extracted_file: the raw bytes the
// control plane retrieved from the endpoint, re-framed into a 7z container.
type ExtractedFile struct {
	SHA256         string
	Size           int64
	CloudRequestID string
	Filename       string
	Content        []byte
}

// CloudFile is a put-file repository entry, unique by name within
// a customer-id scope.
type CloudFile struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	SHA256 string `json:"sha256"`
}

// BatchInitResponse is the response to batch_init_sessions.
type BatchInitResponse struct {
	BatchID string            `json:"batch_id"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// HostQueryFilter narrows query_hosts to a substring match against hostname.
type HostQueryFilter struct {
	HostnameSubstring string
}
