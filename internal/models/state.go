package models

// State is the position of a session in the upload/answer cycle.
type State string

const (
	StateNoDocument     State = "no_document"
	StateDocumentLoaded State = "document_loaded"
	StateAnswering      State = "answering"
)
