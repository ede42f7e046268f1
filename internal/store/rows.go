package store

import "fmt"

// Row checks shared by every backend mapper. A row that fails one of these
// never leaves the store layer.

func CheckProfile(p Profile) (Profile, error) {
	if p.ID == "" {
		return Profile{}, fmt.Errorf("%w: profile without id", ErrMalformedRow)
	}
	return p, nil
}

func CheckDocument(d Document) (Document, error) {
	switch {
	case d.ID == "":
		return Document{}, fmt.Errorf("%w: document without id", ErrMalformedRow)
	case d.AuthorID == "":
		return Document{}, fmt.Errorf("%w: document %s without author_id", ErrMalformedRow, d.ID)
	case d.CurrentVersion < 1:
		return Document{}, fmt.Errorf("%w: document %s has current_version %d", ErrMalformedRow, d.ID, d.CurrentVersion)
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	return d, nil
}

func CheckCollaborator(c Collaborator) (Collaborator, error) {
	if c.ID == "" || c.DocumentID == "" || c.UserID == "" {
		return Collaborator{}, fmt.Errorf("%w: collaborator %q missing keys", ErrMalformedRow, c.ID)
	}
	if c.Permission != "view" && c.Permission != "edit" {
		return Collaborator{}, fmt.Errorf("%w: collaborator %s has permission %q", ErrMalformedRow, c.ID, c.Permission)
	}
	return c, nil
}

func CheckVersion(v Version) (Version, error) {
	if v.ID == "" || v.DocumentID == "" {
		return Version{}, fmt.Errorf("%w: version %q missing keys", ErrMalformedRow, v.ID)
	}
	if v.Version < 1 {
		return Version{}, fmt.Errorf("%w: version %s numbered %d", ErrMalformedRow, v.ID, v.Version)
	}
	return v, nil
}
