package store

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/RoanBrand/emqc/internal/model"
)

func TestInbox(t *testing.T) {
	dir, err := ioutil.TempDir("", "emqc-store")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s, err := NewInbox(dir)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get("a"); err != ErrNotFound {
		t.Fatal(err)
	}

	t0 := time.Unix(1000, 0).UTC()
	msgs := []model.Message{
		{Topic: "b", Payload: []byte("1"), QoS: model.AtLeastOnce},
		{Topic: "a", Payload: []byte("2")},
		{Topic: "b", Payload: []byte("3"), Retain: true},
	}
	for i, m := range msgs {
		if err := s.Put(m, t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	r, err := s.Get("b")
	if err != nil {
		t.Fatal(err)
	}
	if string(r.Payload) != "3" || r.Count != 2 || !r.Retain || !r.Received.Equal(t0.Add(2*time.Second)) {
		t.Fatal(r)
	}

	// survives reopening
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if s, err = NewInbox(dir); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var topics []string
	if err := s.Load(func(r *Record) { topics = append(topics, r.Topic) }); err != nil {
		t.Fatal(err)
	}
	if len(topics) != 2 || topics[0] != "a" || topics[1] != "b" {
		t.Fatal(topics)
	}
}
