package services

import (
	"github.com/custodia-labs/mailindex/internal/core/domain"
)

// AssembleSourceRef builds the citation descriptor for a retrieved chunk:
// the email subject, the attachment filename when the chunk came from one,
// the received timestamp, and the structural locator rendered from the
// chunk's position ("page=3", "page=1-2", "Budget!2:57", or empty for an
// email body).
func AssembleSourceRef(doc *domain.Document, chunk *domain.Chunk) domain.SourceRef {
	ref := domain.SourceRef{
		Subject:    doc.Source.Subject,
		ReceivedAt: doc.Source.ReceivedAt,
		Locator:    chunk.Position.Locator(),
	}
	if doc.Filetype != domain.FiletypeEmailBody {
		ref.Filename = doc.Source.Filename
	}
	return ref
}
