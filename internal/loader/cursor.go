package loader

// docSortKey orders cached documents by (last_modified ASC, doc_id ASC),
// the canonical ordering process_changes_since walks.
type docSortKey struct {
	lastModified int64
	docID        string
}

func (k docSortKey) less(other docSortKey) bool {
	if k.lastModified != other.lastModified {
		return k.lastModified < other.lastModified
	}
	return k.docID < other.docID
}

// DocCursor is an opaque pagination token over the document sequence. The
// zero value denotes "start of sequence".
type DocCursor struct {
	lastModified int64
	docID        string
	set          bool
}

// NewDocCursor builds a cursor positioned just after the given document.
func NewDocCursor(lastModified int64, docID string) DocCursor {
	return DocCursor{lastModified: lastModified, docID: docID, set: true}
}

// IsZero reports whether the cursor denotes "start of sequence".
func (c DocCursor) IsZero() bool { return !c.set }

func (c DocCursor) key() docSortKey {
	return docSortKey{lastModified: c.lastModified, docID: c.docID}
}
