package directory

import (
	"testing"

	"github.com/invpt/hig-proto/ident"
	"github.com/invpt/hig-proto/router"
)

func spawnTwoPeers(rt *router.Router) (a, b router.Address, da, db *Directory) {
	a = rt.Spawn(func(ctx *router.Context) router.Actor {
		da = New(ctx.Self(), nil, nil)
		return da
	})
	b = rt.Spawn(func(ctx *router.Context) router.Actor {
		db = New(ctx.Self(), []ident.Address{a}, nil)
		return db
	})
	da.state.Managers[b] = false
	return
}

func TestCreateThenGossipConverges(t *testing.T) {
	rt := router.New()
	a, b, da, db := spawnTwoPeers(rt)

	name := ident.Name("counter")
	rt.Spawn(func(ctx *router.Context) router.Actor {
		target := ctx.Self()
		da.Create(ctx, name, target, ident.TxId{Originator: a, Timestamp: 1})
		return nullActor{}
	})
	rt.Run()

	if len(db.Lookup(name)) != 1 {
		t.Fatalf("peer b did not converge: got %d entries", len(db.Lookup(name)))
	}
	if len(da.Lookup(name)) != 1 {
		t.Fatalf("peer a lost its own entry: got %d entries", len(da.Lookup(name)))
	}
}

func TestConcurrentCreateOfSameNamePreservesBothEntries(t *testing.T) {
	rt := router.New()
	a, b, da, db := spawnTwoPeers(rt)

	name := ident.Name("a")
	rt.Spawn(func(ctx *router.Context) router.Actor {
		da.Create(ctx, name, ctx.Self(), ident.TxId{Originator: a, Timestamp: 1})
		return nullActor{}
	})
	rt.Spawn(func(ctx *router.Context) router.Actor {
		db.Create(ctx, name, ctx.Self(), ident.TxId{Originator: b, Timestamp: 1})
		return nullActor{}
	})
	rt.Run()

	if got := len(da.Lookup(name)); got != 2 {
		t.Fatalf("expected both entries to survive on a, got %d", got)
	}
	if got := len(db.Lookup(name)); got != 2 {
		t.Fatalf("expected both entries to survive on b, got %d", got)
	}
}

func TestDeleteReconciliesConcurrentCreate(t *testing.T) {
	rt := router.New()
	a, b, da, db := spawnTwoPeers(rt)

	name := ident.Name("a")
	var id EntryID
	rt.Spawn(func(ctx *router.Context) router.Actor {
		id = EntryID{TxId: ident.TxId{Originator: a, Timestamp: 1}}
		da.Create(ctx, name, ctx.Self(), id.TxId)
		return nullActor{}
	})
	rt.Spawn(func(ctx *router.Context) router.Actor {
		db.Create(ctx, name, ctx.Self(), ident.TxId{Originator: b, Timestamp: 1})
		return nullActor{}
	})
	rt.Run()

	rt.Spawn(func(ctx *router.Context) router.Actor {
		da.Delete(ctx, name, id)
		return nullActor{}
	})
	rt.Run()

	if got := len(db.Lookup(name)); got != 1 {
		t.Fatalf("expected exactly one surviving entry after delete, got %d", got)
	}
}

type nullActor struct{}

func (nullActor) Handle(*router.Context, router.Address, router.Message) {}
