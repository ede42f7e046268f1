package app

import (
	"time"

	"quire/api/internal/store"
)

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func documentPayload(doc store.Document) map[string]any {
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"id":             doc.ID,
		"title":          doc.Title,
		"content":        doc.Content,
		"authorId":       doc.AuthorID,
		"isPublic":       doc.IsPublic,
		"currentVersion": doc.CurrentVersion,
		"tags":           tags,
		"createdAt":      timestamp(doc.CreatedAt),
		"updatedAt":      timestamp(doc.UpdatedAt),
	}
}

func documentViewPayload(view DocumentView) map[string]any {
	payload := documentPayload(view.Document)
	payload["permission"] = string(view.Permission)
	payload["canEdit"] = view.CanEdit
	payload["isAuthor"] = view.IsAuthor
	return payload
}

func summaryPayload(summary DocumentSummary) map[string]any {
	payload := documentPayload(summary.Document)
	payload["latestVersion"] = summary.LatestVersion
	payload["hasCollaborators"] = summary.HasCollaborators
	payload["authorName"] = summary.AuthorName
	payload["permission"] = string(summary.Permission)
	return payload
}

func documentListPayload(list DocumentList) map[string]any {
	items := make([]map[string]any, 0, len(list.Documents))
	for _, summary := range list.Documents {
		items = append(items, summaryPayload(summary))
	}
	payload := map[string]any{
		"state":     string(list.State),
		"documents": items,
	}
	if list.Error != "" {
		payload["error"] = list.Error
	}
	return payload
}

func versionPayload(v store.Version) map[string]any {
	return map[string]any{
		"id":         v.ID,
		"documentId": v.DocumentID,
		"version":    v.Version,
		"content":    v.Content,
		"authorId":   v.AuthorID,
		"changes":    v.Changes,
		"createdAt":  timestamp(v.CreatedAt),
	}
}

func collaboratorPayload(c store.Collaborator) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"documentId": c.DocumentID,
		"userId":     c.UserID,
		"permission": c.Permission,
		"addedBy":    c.AddedBy,
		"createdAt":  timestamp(c.CreatedAt),
	}
}

func collaboratorDetailPayload(c store.CollaboratorDetail) map[string]any {
	payload := collaboratorPayload(c.Collaborator)
	payload["username"] = c.Username
	payload["email"] = c.Email
	return payload
}

func principalPayload(p *Principal) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"email":       p.Email,
		"username":    p.Username,
		"displayName": p.DisplayName(),
	}
}
