package ubifs

// xattrNameImageInodeNumber is synthesized per inode when SetInodeAttr is
// enabled, recording the final on-image inode number for later host-side
// reconciliation.
const xattrNameImageInodeNumber = "user.image-inode-number"

// xattrNameSELinux is the extended attribute name SELinux security contexts
// are stored under.
const xattrNameSELinux = "security.selinux"

// Xattr is a single (name, value) extended attribute pair collected from
// the host or synthesized by the image builder.
type Xattr struct {
	Name  string
	Value []byte
}

// XattrSource is the external host-xattr collection contract: given a
// path, it yields the extended attributes the host filesystem reports for
// that path. Image-internal names (none defined by this builder today, but
// reserved for future use) are filtered by the implementation.
type XattrSource interface {
	ListXattrs(path string) ([]Xattr, error)
}

// SELinuxLabeler looks up the security.selinux label to synthesize for a
// path, driven by a host-provided file_contexts-style mapping (the -s
// flag's external collaborator).
type SELinuxLabeler interface {
	Label(path string, isDir bool) (context string, ok bool)
}

// noXattrSource never reports any host extended attributes.
type noXattrSource struct{}

func (noXattrSource) ListXattrs(string) ([]Xattr, error) { return nil, nil }

// noSELinuxLabeler never synthesizes a label.
type noSELinuxLabeler struct{}

func (noSELinuxLabeler) Label(string, bool) (string, bool) { return "", false }
