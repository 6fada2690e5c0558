package canon

import (
	"strings"
	"testing"
	"time"
)

func TestNormalize_EmptyTextSentinel(t *testing.T) {
	raw := RawRecord{ForeignID: "1", Text: "   ", AuthorHandle: "Alice", CreatedAt: time.Now()}
	msg, err := Normalize(raw, PartitionContext{Source: SourceGroupchat, Channel: "kasp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Text != EmptyTextSentinel {
		t.Fatalf("expected sentinel text, got %q", msg.Text)
	}
}

func TestNormalize_HandleLowercased(t *testing.T) {
	raw := RawRecord{ForeignID: "1", Text: "hello kaspa world", AuthorHandle: "Alice", CreatedAt: time.Now()}
	msg, err := Normalize(raw, PartitionContext{Source: SourceMicroblog, Channel: "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.AuthorHandle != "alice" {
		t.Fatalf("expected lower-cased handle, got %q", msg.AuthorHandle)
	}
}

func TestNormalize_MicroblogCapEnforced(t *testing.T) {
	raw := RawRecord{
		ForeignID:    "1",
		Text:         strings.Repeat("a", 281),
		AuthorHandle: "alice",
		CreatedAt:    time.Now(),
	}
	_, err := Normalize(raw, PartitionContext{Source: SourceMicroblog, Channel: "alice"})
	if err == nil {
		t.Fatal("expected error for over-cap microblog text")
	}
}

func TestNormalize_LongTextSkippedNotTruncated(t *testing.T) {
	raw := RawRecord{
		ForeignID:    "1",
		Text:         strings.Repeat("a", MaxTextLength+1),
		AuthorHandle: "kasp",
		CreatedAt:    time.Now(),
	}
	_, err := Normalize(raw, PartitionContext{Source: SourceGroupchat, Channel: "kasp"})
	if err == nil {
		t.Fatal("expected error for over-length text")
	}
}

func TestNormalize_KaspaTopicDetection(t *testing.T) {
	raw := RawRecord{
		ForeignID:    "1",
		Text:         "kaspa mining difficulty just jumped, check the hashrate chart",
		AuthorHandle: "alice",
		CreatedAt:    time.Now(),
	}
	msg, err := Normalize(raw, PartitionContext{Source: SourceMicroblog, Channel: "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.KaspaRelated {
		t.Fatal("expected kaspaRelated=true")
	}
	found := false
	for _, topic := range msg.KaspaTopics {
		if topic == TopicMining {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected mining topic, got %v", msg.KaspaTopics)
	}
}

func TestNormalize_DeterministicID(t *testing.T) {
	raw := RawRecord{ForeignID: "42", Text: "same message content here", AuthorHandle: "bob", CreatedAt: time.Now()}
	pc := PartitionContext{Source: SourceMicroblog, Channel: "bob"}
	m1, err1 := Normalize(raw, pc)
	m2, err2 := Normalize(raw, pc)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v %v", err1, err2)
	}
	if m1.ID != m2.ID {
		t.Fatalf("expected stable id, got %q vs %q", m1.ID, m2.ID)
	}
	if PointID(m1.ID) != PointID(m2.ID) {
		t.Fatal("expected stable point id")
	}
}

func TestNormalize_HashtagsMentionsLinks(t *testing.T) {
	raw := RawRecord{
		ForeignID:    "1",
		Text:         "Check #Kaspa out @DevTeam at https://kaspa.org/docs now",
		AuthorHandle: "alice",
		CreatedAt:    time.Now(),
	}
	msg, err := Normalize(raw, PartitionContext{Source: SourceMicroblog, Channel: "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.Hashtags) != 1 || msg.Hashtags[0] != "#kaspa" {
		t.Fatalf("unexpected hashtags: %v", msg.Hashtags)
	}
	if len(msg.Mentions) != 1 || msg.Mentions[0] != "@devteam" {
		t.Fatalf("unexpected mentions: %v", msg.Mentions)
	}
	if len(msg.Links) != 1 {
		t.Fatalf("unexpected links: %v", msg.Links)
	}
}

func TestNormalize_MissingForeignID(t *testing.T) {
	raw := RawRecord{Text: "hello there friend", AuthorHandle: "alice", CreatedAt: time.Now()}
	_, err := Normalize(raw, PartitionContext{Source: SourceMicroblog, Channel: "alice"})
	if err == nil {
		t.Fatal("expected error for missing foreign id")
	}
}

func TestNormalize_GroupchatTopicPartition(t *testing.T) {
	raw := RawRecord{ForeignID: "99", Text: "discussing the dev branch today", AuthorHandle: "carol", CreatedAt: time.Now()}
	pc := PartitionContext{Source: SourceGroupchat, Channel: "kasp:topic:2"}
	msg, err := Normalize(raw, pc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Source != SourceGroupchat {
		t.Fatalf("expected groupchat source, got %v", msg.Source)
	}
	// id must differ from the same foreignId under a different channel partition.
	other, err := Normalize(raw, PartitionContext{Source: SourceGroupchat, Channel: "kasp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID == other.ID {
		t.Fatal("expected different ids for different channel partitions")
	}
}
