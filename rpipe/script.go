package rpipe

import (
	"context"
	"crypto/sha1"
	"encoding/hex"

	"github.com/duskfin/redicore/rcerr"
	"github.com/duskfin/redicore/resp"
)

// ScriptCache tracks which Lua script SHAs are known to be loaded on a
// given connection, so EvalSha can skip the SCRIPT EXISTS/SCRIPT LOAD
// round trip once a script has been confirmed present. It intentionally
// knows nothing about the Lua-script-builder convenience API (out of
// scope, spec.md §1) — it operates purely on source text and its SHA1.
type ScriptCache struct {
	known map[string]bool
}

// NewScriptCache creates an empty cache.
func NewScriptCache() *ScriptCache { return &ScriptCache{known: make(map[string]bool)} }

// SHA1 returns the lowercase hex SHA1 digest EVALSHA expects.
func SHA1(script string) string {
	sum := sha1.Sum([]byte(script))
	return hex.EncodeToString(sum[:])
}

// EvalSha runs script via EVALSHA, preloading it with SCRIPT LOAD first if
// the cache does not already know it is present — grounded on
// original_source's Script.execute, which does the same
// EXISTS-then-LOAD-then-EVALSHA dance around a single script body (see
// SPEC_FULL.md §5). keys/args follow EVAL's numkeys convention.
func (sc *ScriptCache) EvalSha(ctx context.Context, conn commandSender, script string, numKeys int, args ...resp.Arg) (resp.Value, error) {
	sha := SHA1(script)

	if !sc.known[sha] {
		if err := sc.preload(ctx, conn, sha, script); err != nil {
			return resp.Value{}, err
		}
	}

	callArgs := append([]resp.Arg{sha, numKeys}, args...)
	v, err := conn.Send(ctx, "EVALSHA", callArgs...)
	if err != nil {
		return resp.Value{}, err
	}
	if v.IsError() {
		if v.Err.Kind == "NOSCRIPT" {
			// Script was evicted server-side between preload and eval;
			// forget it and load it again for the retry.
			delete(sc.known, sha)
			if err := sc.preload(ctx, conn, sha, script); err != nil {
				return resp.Value{}, err
			}
			return conn.Send(ctx, "EVALSHA", callArgs...)
		}
		return v, rcerr.ClassifyReply(v)
	}
	return v, nil
}

func (sc *ScriptCache) preload(ctx context.Context, conn commandSender, sha, script string) error {
	existsReply, err := conn.Send(ctx, "SCRIPT", "EXISTS", sha)
	if err != nil {
		return err
	}
	if len(existsReply.Array) == 1 && existsReply.Array[0].Int == 1 {
		sc.known[sha] = true
		return nil
	}

	loadReply, err := conn.Send(ctx, "SCRIPT", "LOAD", script)
	if err != nil {
		return err
	}
	if loadReply.IsError() {
		return rcerr.ClassifyReply(loadReply)
	}
	sc.known[sha] = true
	return nil
}

// commandSender is the minimal surface EvalSha needs; *rconn.Conn
// satisfies it directly.
type commandSender interface {
	Send(ctx context.Context, name string, args ...resp.Arg) (resp.Value, error)
}
