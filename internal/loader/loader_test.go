package loader_test

import (
	"DeepReplay/internal/codec"
	"DeepReplay/internal/loader"
	"DeepReplay/internal/testutil"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/zerolog"
)

const deepbook = "0x2c8d603bc51326b8c13cef9dd07031a408a48dddb541963357661df5d3204809"

const sliceType = "0x2::dynamic_field::Field<u64, vector<" + deepbook + "::order::Order>>"

var (
	asksID = codec.MustParseAddress("0xa5")
	bidsID = codec.MustParseAddress("0xb1")
)

func newLoader() *loader.Loader {
	return loader.New("sui_usdc", zerolog.Nop(), loader.WithBigVectors(asksID, bidsID))
}

func load(t *testing.T, l *loader.Loader, lines ...string) {
	t.Helper()
	if _, err := l.LoadJSONL(strings.NewReader(strings.Join(lines, "\n"))); err != nil {
		t.Fatalf("load: %v", err)
	}
}

// ===== Test: dedup =====

func TestLoadJSONL_KeepsStrictlyHigherVersion(t *testing.T) {
	l := newLoader()
	n, err := l.LoadJSONL(strings.NewReader(`
{"object_id":"0x1","object_type":"0x2::clock::Clock","version":5,"object_json":{"tag":"v5"},"checkpoint":10}
{"object_id":"0x1","object_type":"0x2::clock::Clock","version":7,"object_json":{"tag":"v7"},"checkpoint":11}
{"object_id":"0x1","object_type":"0x2::clock::Clock","version":7,"object_json":{"tag":"dup"},"checkpoint":12}
{"object_id":"0x1","object_type":"0x2::clock::Clock","version":6,"object_json":{"tag":"v6"},"checkpoint":13}
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 4 {
		t.Errorf("records read: got %d, want 4", n)
	}
	if l.Len() != 1 {
		t.Fatalf("objects: got %d, want 1", l.Len())
	}
	r, ok := l.ByIdentity(codec.MustParseAddress("0x1"))
	if !ok {
		t.Fatal("record missing")
	}
	if r.Version != 7 || !strings.Contains(string(r.JSON), "v7") {
		t.Errorf("got version %d payload %s, want version 7 payload v7", r.Version, r.JSON)
	}
}

// ===== Test: malformed input =====

func TestLoadJSONL_MalformedLineFailsWholeLoad(t *testing.T) {
	l := newLoader()
	_, err := l.LoadJSONL(strings.NewReader(`{"object_id":"0x1","type":"0x2::clock::Clock","version":1,"object_json":{}}
{"object_id":"0x2","type":"0x2::clock::Clock","version":1,"object_json":{}}
not json
`))
	if !errors.Is(err, loader.ErrMalformedLine) {
		t.Fatalf("got %v, want ErrMalformedLine", err)
	}
	var le *loader.LineError
	if !errors.As(err, &le) || le.Line != 3 {
		t.Errorf("got %v, want line 3", err)
	}
	if l.Len() != 0 || l.Loaded() {
		t.Errorf("partial load committed %d objects", l.Len())
	}
}

func TestLoadJSONL_RejectsIncompleteRecords(t *testing.T) {
	cases := map[string]string{
		"no id":      `{"type":"t","version":1,"object_json":{}}`,
		"no type":    `{"object_id":"0x1","version":1,"object_json":{}}`,
		"no payload": `{"object_id":"0x1","type":"t","version":1}`,
		"bad owner":  `{"object_id":"0x1","type":"t","version":1,"object_json":{},"owner_type":"Consensus"}`,
		"bad id":     `{"object_id":"zz","type":"t","version":1,"object_json":{}}`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newLoader().LoadJSONL(strings.NewReader(line))
			if !errors.Is(err, loader.ErrMalformedLine) {
				t.Errorf("got %v, want ErrMalformedLine", err)
			}
		})
	}
}

// ===== Test: record fields =====

func TestParseRecord_Fields(t *testing.T) {
	r, err := loader.ParseRecord([]byte(`{"object_id":"0xabc","type":"0x2::coin::Coin<0x2::sui::SUI>","version":"100",
		"object_json":{"value":"1000"},"initial_shared_version":null,"owner_type":"AddressOwner",
		"owner_address":"0xdef","checkpoint":12345}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Type != "0x2::coin::Coin<0x2::sui::SUI>" {
		t.Errorf("type alias: got %q", r.Type)
	}
	if r.Version != 100 || r.Checkpoint != 12345 {
		t.Errorf("got version %d checkpoint %d", r.Version, r.Checkpoint)
	}
	if r.Owner != loader.OwnerAddress || r.OwnerAddress == nil || *r.OwnerAddress != codec.MustParseAddress("0xdef") {
		t.Errorf("owner: got %s %v", r.Owner, r.OwnerAddress)
	}
	if r.InitialSharedVersion != nil {
		t.Errorf("initial shared version: got %d, want nil", *r.InitialSharedVersion)
	}
	if r.IsChildField() {
		t.Error("coin reported as child field")
	}
}

// ===== Test: accessors and statistics =====

func TestLoader_ByOwnerAndStats(t *testing.T) {
	l := newLoader()
	load(t, l,
		`{"object_id":"0x10","type":"`+sliceType+`","version":3,"object_json":{},"owner_type":"ObjectOwner","owner_address":"0xa5","checkpoint":100}`,
		`{"object_id":"0x11","type":"`+sliceType+`","version":9,"object_json":{},"owner_type":"ObjectOwner","owner_address":"0xa5","checkpoint":120}`,
		`{"object_id":"0x12","type":"`+sliceType+`","version":4,"object_json":{},"owner_type":"ObjectOwner","owner_address":"0xb1","checkpoint":90}`,
		`{"object_id":"0x13","type":"0x2::clock::Clock","version":1,"object_json":{},"owner_type":"Shared","checkpoint":1}`,
	)

	asks := l.ByOwner(asksID)
	if len(asks) != 2 || asks[0].ObjectID != codec.MustParseAddress("0x10") {
		t.Errorf("ByOwner(asks): got %d records", len(asks))
	}
	if !asks[0].IsChildField() {
		t.Error("slice not reported as child field")
	}

	s := l.Stats()
	want := loader.Stats{Venue: "sui_usdc", TotalObjects: 4, AsksSlices: 2, BidsSlices: 1, MaxCheckpoint: 120, MaxVersion: 9}
	if s != want {
		t.Errorf("stats: got %+v, want %+v", s, want)
	}

	all := l.All()
	for i := 1; i < len(all); i++ {
		if strings.Compare(all[i-1].ObjectID.String(), all[i].ObjectID.String()) >= 0 {
			t.Errorf("All not sorted at %d", i)
		}
	}
}

func TestLoader_MissingSlices(t *testing.T) {
	l := newLoader()
	order := `{"balance_manager_id":"0x1","order_id":"1","client_order_id":"0","quantity":"1","filled_quantity":"0","fee_is_deep":false,"order_deep_price":{"asset_is_base":false,"deep_per_asset":"0"},"epoch":"0","status":0,"expire_timestamp":"0"}`
	load(t, l,
		`{"object_id":"0x20","type":"`+sliceType+`","version":1,"owner_type":"ObjectOwner","owner_address":"0xa5",`+
			`"object_json":{"id":{"id":"0x20"},"name":"1","value":{"prev":"0","next":"0","keys":["5","9"],"vals":["2","3"]}}}`,
		`{"object_id":"0x21","type":"`+sliceType+`","version":1,"owner_type":"ObjectOwner","owner_address":"0xa5",`+
			`"object_json":{"id":{"id":"0x21"},"name":"2","value":{"prev":"0","next":"3","keys":["5"],"vals":[`+order+`]}}}`,
	)

	got := l.MissingSlices()
	if len(got) != 1 {
		t.Fatalf("got %d missing slices, want 1: %+v", len(got), got)
	}
	if got[0].Parent != asksID || got[0].Name != 3 {
		t.Errorf("got %+v, want parent %s name 3", got[0], asksID)
	}
}

func TestLoadFile_PicksFormatFromExtension(t *testing.T) {
	dir := t.TempDir()
	jsonl := filepath.Join(dir, "pool.jsonl")
	array := filepath.Join(dir, "pool.json")
	os.WriteFile(jsonl, []byte(`{"object_id":"0x1","type":"t","version":1,"object_json":{}}`+"\n"), 0o644)
	os.WriteFile(array, []byte(`[{"object_id":"0x2","type":"t","version":1,"object_json":{}},{"object_id":"0x3","type":"t","version":1,"object_json":{}}]`), 0o644)

	l := newLoader()
	if n, err := l.LoadFile(jsonl); err != nil || n != 1 {
		t.Errorf("jsonl: got %d, %v", n, err)
	}
	if n, err := l.LoadFile(array); err != nil || n != 2 {
		t.Errorf("json: got %d, %v", n, err)
	}
	if l.Len() != 3 {
		t.Errorf("objects: got %d, want 3", l.Len())
	}
	if _, err := l.LoadFile(filepath.Join(dir, "absent.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRegistry_Summary(t *testing.T) {
	reg := loader.NewRegistry()
	a := loader.New("wal_usdc", zerolog.Nop())
	load(t, a, `{"object_id":"0x1","type":"t","version":1,"object_json":{}}`)
	reg.Put(a)
	reg.Put(loader.New("deep_usdc", zerolog.Nop())) // never loaded

	if got := reg.Venues(); len(got) != 1 || got[0] != "wal_usdc" {
		t.Errorf("venues: got %v", got)
	}
	s := reg.Summary()
	if s.TotalVenues != 1 || s.Venues[0].TotalObjects != 1 {
		t.Errorf("summary: got %+v", s)
	}
}

// ===== Test: SQL export source =====

func openExportDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE object_export (
		venue TEXT, object_id TEXT, object_type TEXT, version INTEGER, object_json TEXT,
		owner_type TEXT, owner_address TEXT, checkpoint INTEGER, initial_shared_version INTEGER)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	rows := []struct {
		venue, id string
		version   int64
		owner     any
		addr      any
		isv       any
	}{
		{"sui_usdc", "0x1", 1, "Shared", nil, int64(1)},
		{"sui_usdc", "0x1", 2, "Shared", nil, int64(1)},
		{"sui_usdc", "0x2", 1, "ObjectOwner", "0xa5", nil},
		{"wal_usdc", "0x3", 1, nil, nil, nil},
	}
	for _, r := range rows {
		_, err := db.Exec(`INSERT INTO object_export VALUES ($1, $2, 't', $3, '{"v":1}', $4, $5, 7, $6)`,
			r.venue, r.id, r.version, r.owner, r.addr, r.isv)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return db
}

func TestSQLSource_LoadsVenueRows(t *testing.T) {
	src, err := loader.NewSQLSource(openExportDB(t), "object_export")
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	l := newLoader()
	n, err := src.Load(context.Background(), l)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 3 || l.Len() != 2 {
		t.Errorf("got %d rows and %d objects, want 3 and 2", n, l.Len())
	}
	pool, _ := l.ByIdentity(codec.MustParseAddress("0x1"))
	if pool.Version != 2 || pool.Owner != loader.OwnerShared || pool.InitialSharedVersion == nil {
		t.Errorf("shared record: got %+v", pool)
	}
	if len(l.ByOwner(asksID)) != 1 {
		t.Error("object-owned row lost its owner")
	}
}

func TestSQLSource_WithoutVenueFilter(t *testing.T) {
	src, _ := loader.NewSQLSource(openExportDB(t), "object_export")
	l := newLoader()
	if _, err := src.WithoutVenueFilter().Load(context.Background(), l); err != nil {
		t.Fatalf("load: %v", err)
	}
	if l.Len() != 3 {
		t.Errorf("objects: got %d, want 3", l.Len())
	}
}

func TestSQLSource_RejectsBadTableName(t *testing.T) {
	if _, err := loader.NewSQLSource(nil, "export; DROP TABLE x"); err == nil {
		t.Error("expected error for injected table name")
	}
}

func TestSQLSource_Postgres(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupExportDB(t, "it_object_export")
	defer cleanup()

	_, err := db.Exec(`INSERT INTO it_object_export VALUES
		('sui_usdc', '0x1', 't', 3, '{"v":1}', 'Shared', NULL, 9, 1),
		('sui_usdc', '0x2', 't', 1, '{"v":2}', 'ObjectOwner', '0xb1', 9, NULL),
		('deep_usdc', '0x3', 't', 1, '{"v":3}', NULL, NULL, 9, NULL)`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	src, err := loader.OpenSQLSource(testutil.TestPostgresDSN(), "it_object_export")
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	defer src.Close()

	l := newLoader()
	n, err := src.Load(context.Background(), l)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 2 {
		t.Errorf("rows: got %d, want 2", n)
	}
	if len(l.ByOwner(bidsID)) != 1 {
		t.Error("bid-owned row missing")
	}
	if st := l.Stats(); st.MaxCheckpoint != 9 || st.MaxVersion != 3 {
		t.Errorf("stats: got %+v", st)
	}
}
