package canon

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MinTextLength and MaxTextLength bound a message's cleaned text.
	MinTextLength = 10
	MaxTextLength = 5000

	// MicroblogCap is the strictly-enforced per-message cap for the
	// microblog source, stricter than the general MaxTextLength.
	MicroblogCap = 280

	// microblogHandlePatternSrc backs microblogHandlePattern, a validation
	// warning (not a reject) for microblog author handles.
	microblogHandlePatternSrc = `^[a-z0-9_]{1,15}$`
)

var microblogHandlePattern = regexp.MustCompile(microblogHandlePatternSrc)

// namespaceKaspaIndexer is the fixed v5 UUID namespace for point ids,
// analogous to uuid.NameSpaceURL but scoped to this pipeline so ids never
// collide with unrelated UUIDv5 producers.
var namespaceKaspaIndexer = uuid.NewSHA1(uuid.NameSpaceURL, []byte("kda-labs/sigil-etl"))

// RawRecord is what a source adapter hands the normalizer: text plus
// whatever identifying fields the adapter captured. It is intentionally
// loose — adapters are heterogeneous — and is coerced into a Message at
// exactly this one boundary.
type RawRecord struct {
	ForeignID    string
	Text         string
	Author       string
	AuthorHandle string
	CreatedAt    time.Time
	URL          string
}

// PartitionContext carries the partition key components that are not
// part of the raw record itself: which source produced it, and the
// channel/handle (including any `:topic:<id>` suffix for groupchat).
type PartitionContext struct {
	Source  Source
	Channel string // the boundary partition key, e.g. "alice" or "kasp:topic:2"
}

// Normalize converts one raw adapter record into a CanonicalMessage.
// It is a pure function: the same inputs always produce the same
// output, and it is the single place raw records are coerced into the
// canonical shape (see design note on duck-typed adapter payloads).
func Normalize(raw RawRecord, pc PartitionContext) (Message, error) {
	if raw.ForeignID == "" {
		return Message{}, NewValidationError("foreignId", raw.ForeignID, ErrMissingForeignID)
	}

	text := cleanWhitespace(raw.Text)
	if text == "" {
		// Kept intentionally: some embedding providers fail on blank
		// input. See design notes for the "empty text" sentinel.
		text = EmptyTextSentinel
	}

	if len(text) > MaxTextLength {
		return Message{}, NewValidationError("text", truncateForError(text), ErrTextTooLong)
	}
	if pc.Source == SourceMicroblog && len(text) > MicroblogCap {
		return Message{}, NewValidationError("text", truncateForError(text), ErrMicroblogCap)
	}
	if text != EmptyTextSentinel && len(text) < MinTextLength {
		return Message{}, NewValidationError("text", text, ErrTextTooShort)
	}

	handle := strings.ToLower(raw.AuthorHandle)

	id := stableHash(string(pc.Source), pc.Channel, raw.ForeignID)
	related, topics := classifyKaspa(text)

	msg := Message{
		ID:                id,
		Text:              text,
		Author:            raw.Author,
		AuthorHandle:      handle,
		CreatedAt:         raw.CreatedAt.UTC(),
		URL:               raw.URL,
		Source:            pc.Source,
		KaspaRelated:      related,
		KaspaTopics:       topics,
		Hashtags:          extractHashtags(text),
		Mentions:          extractMentions(text),
		Links:             extractLinks(text),
		Language:          "unknown",
		ProcessingStatus:  StatusTransformed,
		OriginalForeignID: raw.ForeignID,
	}

	// Microblog handle shape is a validation warning only, never a
	// reject — legacy and third-party handles may not conform.
	if pc.Source == SourceMicroblog && !microblogHandlePattern.MatchString(handle) {
		msg.Errors = append(msg.Errors, "authorHandle does not match microblog handle pattern "+microblogHandlePatternSrc)
	}

	return msg, nil
}

// PointID derives the deterministic UUIDv5 point id for a canonical
// message id, so re-indexing the same message is an idempotent upsert.
func PointID(messageID string) string {
	return uuid.NewSHA1(namespaceKaspaIndexer, []byte(messageID)).String()
}

// stableHash derives a deterministic, stable string id from the
// partition components. It does not need to be cryptographically
// secure, only stable and collision-resistant in practice.
func stableHash(source, channelOrHandle, foreignID string) string {
	h := sha1.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(channelOrHandle))
	h.Write([]byte{0})
	h.Write([]byte(foreignID))
	return hex.EncodeToString(h.Sum(nil))
}

func truncateForError(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return fmt.Sprintf("%s...(%d bytes)", s[:max], len(s))
}
