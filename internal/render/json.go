package render

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/transfa/analytics-service/internal/domain"
)

// JSON writes the report as indented JSON.
func JSON(w io.Writer, report *domain.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("render json: %w", err)
	}
	return nil
}
