package vectorstore

import (
	"strconv"
	"time"

	"github.com/kda-labs/sigil-etl/engine/canon"
	pb "github.com/qdrant/go-client/qdrant"
)

// Persisted payload keys, exactly as specified for the collection.
// Exported so callers outside the package (e.g. the boundary index) can
// build filters without duplicating string literals.
const (
	PayloadKeyText              = "text"
	PayloadKeyAuthor            = "author"
	PayloadKeyAuthorHandle      = "authorHandle"
	PayloadKeyCreatedAt         = "createdAt"
	PayloadKeyURL               = "url"
	PayloadKeySource            = "source"
	PayloadKeyKaspaRelated      = "kaspaRelated"
	PayloadKeyKaspaTopics       = "kaspaTopics"
	PayloadKeyHashtags          = "hashtags"
	PayloadKeyMentions          = "mentions"
	PayloadKeyLinks             = "links"
	PayloadKeyLanguage          = "language"
	PayloadKeyOriginalForeignID = "originalForeignId"
	PayloadKeyStoredAt          = "storedAt"
	PayloadKeyVectorDimensions  = "vectorDimensions"
)

const (
	keyText              = PayloadKeyText
	keyAuthor            = PayloadKeyAuthor
	keyAuthorHandle      = PayloadKeyAuthorHandle
	keyCreatedAt         = PayloadKeyCreatedAt
	keyURL               = PayloadKeyURL
	keySource            = PayloadKeySource
	keyKaspaRelated      = PayloadKeyKaspaRelated
	keyKaspaTopics       = PayloadKeyKaspaTopics
	keyHashtags          = PayloadKeyHashtags
	keyMentions          = PayloadKeyMentions
	keyLinks             = PayloadKeyLinks
	keyLanguage          = PayloadKeyLanguage
	keyOriginalForeignID = PayloadKeyOriginalForeignID
	keyStoredAt          = PayloadKeyStoredAt
	keyVectorDimensions  = PayloadKeyVectorDimensions
)

func payloadMap(p canon.Point) map[string]any {
	m := p.Payload
	return map[string]any{
		keyText:              m.Text,
		keyAuthor:            m.Author,
		keyAuthorHandle:      m.AuthorHandle,
		keyCreatedAt:         m.CreatedAt.UTC().Format(time.RFC3339),
		keyURL:               m.URL,
		keySource:            string(m.Source),
		keyKaspaRelated:      m.KaspaRelated,
		keyKaspaTopics:       m.KaspaTopics,
		keyHashtags:          m.Hashtags,
		keyMentions:          m.Mentions,
		keyLinks:             m.Links,
		keyLanguage:          m.Language,
		keyOriginalForeignID: m.OriginalForeignID,
		keyStoredAt:          p.StoredAt.UTC().Format(time.RFC3339),
		keyVectorDimensions:  p.VectorDim,
	}
}

// payloadToQdrant type-switches the payload map into Qdrant's tagged
// Value union, mirroring the pattern used across the corpus for
// building Qdrant payloads from a Go map[string]any.
func payloadToQdrant(m map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(m))
	for k, v := range m {
		out[k] = toQdrantValue(v)
	}
	return out
}

func toQdrantValue(v any) *pb.Value {
	switch tv := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case []string:
		values := make([]*pb.Value, len(tv))
		for i, s := range tv {
			values[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: strconv.Quote("")}}
	}
}

func pointFromRetrieved(r *pb.RetrievedPoint) canon.Point {
	payload := canon.Message{}
	vals := r.GetPayload()
	dim := 0
	populateMessageFromPayload(&payload, vals, &dim)
	var vec []float32
	if v := r.GetVectors(); v != nil {
		vec = v.GetVector().GetData()
	}
	return canon.Point{
		PointID:   r.GetId().GetUuid(),
		Vector:    vec,
		Payload:   payload,
		VectorDim: dim,
	}
}

func pointFromScored(r *pb.ScoredPoint) canon.Point {
	payload := canon.Message{}
	vals := r.GetPayload()
	dim := 0
	populateMessageFromPayload(&payload, vals, &dim)
	var vec []float32
	if v := r.GetVectors(); v != nil {
		vec = v.GetVector().GetData()
	}
	return canon.Point{
		PointID:   r.GetId().GetUuid(),
		Vector:    vec,
		Payload:   payload,
		VectorDim: dim,
	}
}

func populateMessageFromPayload(msg *canon.Message, vals map[string]*pb.Value, dim *int) {
	getStr := func(k string) string { return vals[k].GetStringValue() }
	getList := func(k string) []string {
		lv := vals[k].GetListValue()
		if lv == nil {
			return nil
		}
		out := make([]string, len(lv.GetValues()))
		for i, v := range lv.GetValues() {
			out[i] = v.GetStringValue()
		}
		return out
	}

	msg.Text = getStr(keyText)
	msg.Author = getStr(keyAuthor)
	msg.AuthorHandle = getStr(keyAuthorHandle)
	if t, err := time.Parse(time.RFC3339, getStr(keyCreatedAt)); err == nil {
		msg.CreatedAt = t
	}
	msg.URL = getStr(keyURL)
	msg.Source = canon.Source(getStr(keySource))
	msg.KaspaRelated = vals[keyKaspaRelated].GetBoolValue()
	msg.KaspaTopics = getList(keyKaspaTopics)
	msg.Hashtags = getList(keyHashtags)
	msg.Mentions = getList(keyMentions)
	msg.Links = getList(keyLinks)
	msg.Language = getStr(keyLanguage)
	msg.OriginalForeignID = getStr(keyOriginalForeignID)
	*dim = int(vals[keyVectorDimensions].GetIntegerValue())
}
