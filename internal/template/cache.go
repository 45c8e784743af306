package template

// Cache maps the 4-tuple template key to its installed Template. A
// Cache is owned by exactly one decoder (one per UDP port); the spec's
// single-writer invariant means no internal locking is needed here —
// concurrent access from anything but the owning decoder is a misuse
// of the type, not a race this type defends against.
type Cache struct {
	templates map[Key]*Template
	// warnedAmbiguous suppresses repeat warnings for an id already
	// reported as falling in the enterprise-bit-ambiguous range.
	warnedAmbiguous map[uint16]bool
	// listedUnknown rate-limits "template not yet defined" logging to
	// once per key, mirroring the source's listed_templates behavior.
	listedUnknown map[Key]bool
}

// NewCache returns an empty template cache.
func NewCache() *Cache {
	return &Cache{
		templates:       make(map[Key]*Template),
		warnedAmbiguous: make(map[uint16]bool),
		listedUnknown:   make(map[Key]bool),
	}
}

// Get returns the installed template for key, if any.
func (c *Cache) Get(key Key) (*Template, bool) {
	t, ok := c.templates[key]
	return t, ok
}

// InstallResult reports what Put did, for logging at the call site.
type InstallResult int

const (
	// InstallNew means no template existed for this key before.
	InstallNew InstallResult = iota
	// InstallUnchanged means an identical template was already
	// installed; the existing Template (and its plan) is kept.
	InstallUnchanged
	// InstallReplaced means a template existed with different
	// canonical bytes; it has been replaced with a freshly built one.
	InstallReplaced
)

// Put installs candidate as the template for key, preserving
// LastFlowInfo across a replacement (sequence tracking belongs to the
// exporter stream, not to any one template generation). It returns
// InstallUnchanged without mutating the cache when an identical
// template is already present, so a caller can skip rebuilding work
// and optionally log "unchanged".
func (c *Cache) Put(key Key, candidate *Template) InstallResult {
	existing, ok := c.templates[key]
	if ok && existing.Unchanged(candidate.RawBytes) {
		return InstallUnchanged
	}

	if ok {
		candidate.LastFlowInfo = existing.LastFlowInfo
	}
	c.templates[key] = candidate

	if ok {
		return InstallReplaced
	}
	return InstallNew
}

// WarnAmbiguousOnce reports whether id's enterprise-bit ambiguity
// warning has already been logged for this cache, and records it.
func (c *Cache) WarnAmbiguousOnce(id uint16) (shouldLog bool) {
	if c.warnedAmbiguous[id] {
		return false
	}
	c.warnedAmbiguous[id] = true
	return true
}

// UnknownTemplateOnce reports whether a "template not yet defined"
// error should be logged for key (only the first data set seen before
// any template install logs; subsequent ones are suppressed).
func (c *Cache) UnknownTemplateOnce(key Key) (shouldLog bool) {
	if c.listedUnknown[key] {
		return false
	}
	c.listedUnknown[key] = true
	return true
}

// ForgetUnknown clears the unknown-template suppression for key, called
// once the template is actually installed so a later removal-and-
// reinstall (not expected in this design, but defensive) logs again.
func (c *Cache) ForgetUnknown(key Key) {
	delete(c.listedUnknown, key)
}
