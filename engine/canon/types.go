// Package canon defines the canonical message shape that flows through the
// indexing pipeline after C4 normalization, and the point shape C1 persists.
package canon

import "time"

// Source identifies which platform a message originated from.
type Source string

const (
	SourceMicroblog Source = "microblog"
	SourceGroupchat Source = "groupchat"
)

// ProcessingStatus progresses monotonically within a single indexing run.
type ProcessingStatus string

const (
	StatusScraped     ProcessingStatus = "scraped"
	StatusTransformed ProcessingStatus = "transformed"
	StatusEmbedded    ProcessingStatus = "embedded"
	StatusStored      ProcessingStatus = "stored"
	StatusFailed      ProcessingStatus = "failed"
)

// EmptyTextSentinel replaces zero-length cleaned text before embedding.
// Some embedding providers reject blank input; substituting a constant
// string keeps the pipeline moving while still satisfying the "every
// stored item has real or sentinel text" invariant.
const EmptyTextSentinel = "empty text"

// Message is the normalized unit that flows through the pipeline after C4.
type Message struct {
	ID           string
	Text         string
	Author       string
	AuthorHandle string
	CreatedAt    time.Time
	URL          string
	Source       Source

	KaspaRelated bool
	KaspaTopics  []string

	Hashtags []string
	Mentions []string
	Links    []string

	Language string

	ProcessingStatus ProcessingStatus
	RetryCount       int
	Errors           []string

	// OriginalForeignID is the source-native id, kept for payload fidelity.
	OriginalForeignID string
}

// Point is what C1 persists: a vector plus the message payload.
type Point struct {
	PointID   string
	Vector    []float32
	Payload   Message
	StoredAt  time.Time
	VectorDim int
}

// KaspaTopic buckets used by the keyword classifier in extract.go.
const (
	TopicMining       = "mining"
	TopicDevelopment  = "development"
	TopicTrading      = "trading"
	TopicTechnology   = "technology"
	TopicCommunity    = "community"
	TopicDefi         = "defi"
	TopicNFT          = "nft"
)
