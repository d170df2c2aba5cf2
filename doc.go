/*
Package countdb implements persistent incremental count tables on top of an
ordered key-value store (Badger by default, Bolt or in-memory on request).

We implement:

1. Raw count tables (Table), mapping keys of entity indices to float32
counts, with log-domain accumulation.

2. Lexical tables (LexTable), holding a denominator per source word and a
numerator per (source, target) pair.

3. Phrase tables (PhraseTable), holding a marginal count per source phrase
and a joint count per (source phrase, target) pair, queryable from both
sides and by top-K.

4. Bulk interchange: legacy binary records, their text rendering, and
engine-independent snapshots (see package interchange).

# Technical Details

**Key encoding.**
A key is a sequence of integers. Each integer is written as DigitWidth digits
in base DigitBase, most significant first, each digit shifted up by one so
that no byte is zero. Keys have no separators; the fixed width alone tells
components apart, keeps byte order equal to numeric order, and makes a
marginal key never byte-equal to a joint key.

**Values** are float32 bit patterns written with the same digit encoding.

**Partner-first joint keys.**
A joint entry for (s, t) is stored as [t] ++ s, so all entries of a target
occupy the byte range [enc(t), enc(t+1)).

**Metadata record.**
Every store holds one record under "\x00meta", which sorts before all codec
keys. It is msgpack-encoded and names the table kind and the codec
parameters; opening a store with a different kind fails with ErrIncompatible.

**Clear.**
Clear drops the underlying store and creates it anew. If the new store cannot
be created, Clear returns a *FatalError and the Store rejects every later
call; callers must stop using it.
*/
package countdb
