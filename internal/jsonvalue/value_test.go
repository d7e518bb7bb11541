package jsonvalue_test

import (
	"encoding/json"
	"testing"

	"blaze/internal/jsonvalue"
)

func TestOverwriteMergesObjectsRecursively(t *testing.T) {
	base := jsonvalue.Object(map[string]jsonvalue.Value{
		"a": jsonvalue.Int(1),
		"nested": jsonvalue.Object(map[string]jsonvalue.Value{
			"x": jsonvalue.String("old"),
			"y": jsonvalue.Bool(true),
		}),
	})
	other := jsonvalue.Object(map[string]jsonvalue.Value{
		"nested": jsonvalue.Object(map[string]jsonvalue.Value{
			"x": jsonvalue.String("new"),
		}),
		"b": jsonvalue.String("added"),
	})

	merged := jsonvalue.Overwrite(base, other)
	obj, ok := merged.AsObject()
	if !ok {
		t.Fatalf("expected object")
	}
	if v, _ := obj["b"].AsString(); v != "added" {
		t.Fatalf("expected b=added, got %v", obj["b"])
	}
	nested, _ := obj["nested"].AsObject()
	if v, _ := nested["x"].AsString(); v != "new" {
		t.Fatalf("expected nested.x=new, got %v", nested["x"])
	}
	if v, _ := nested["y"].AsBool(); v != true {
		t.Fatalf("expected nested.y to survive merge, got %v", nested["y"])
	}
}

func TestOverwriteNonObjectReplacesWhole(t *testing.T) {
	base := jsonvalue.Array(jsonvalue.Int(1), jsonvalue.Int(2))
	other := jsonvalue.Int(5)
	merged := jsonvalue.Overwrite(base, other)
	i, ok := merged.AsInt()
	if !ok || i != 5 {
		t.Fatalf("expected whole replacement with 5, got %v", merged)
	}
}

func TestMarshalJSONDeterministicKeyOrder(t *testing.T) {
	v := jsonvalue.Object(map[string]jsonvalue.Value{
		"z": jsonvalue.Int(1),
		"a": jsonvalue.Int(2),
		"m": jsonvalue.Int(3),
	})
	b1, err := v.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		b2, err := v.MarshalJSON()
		if err != nil {
			t.Fatal(err)
		}
		if string(b1) != string(b2) {
			t.Fatalf("non-deterministic marshal: %s vs %s", b1, b2)
		}
	}
	if string(b1) != `{"a":2,"m":3,"z":1}` {
		t.Fatalf("unexpected order: %s", b1)
	}
}

func TestRoundTripJSON(t *testing.T) {
	v := jsonvalue.Object(map[string]jsonvalue.Value{
		"n":    jsonvalue.Int(-5),
		"f":    jsonvalue.Float(1.5),
		"s":    jsonvalue.String("hi"),
		"arr":  jsonvalue.Array(jsonvalue.Bool(true), jsonvalue.Null()),
	})
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var back jsonvalue.Value
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	obj, ok := back.AsObject()
	if !ok {
		t.Fatalf("expected object after round-trip")
	}
	if n, _ := obj["n"].AsInt(); n != -5 {
		t.Fatalf("expected n=-5, got %v", obj["n"])
	}
}
