package dynamostore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// Dump writes every item in the table to w, one line per item, in the
// form "<_id> <_rng> <_seq> <_typ>". It is a debugging aid only, ported
// from the teacher's table-dumping test helper, and scans every page of
// the table: never call it against a production-sized table.
func (s *Store) Dump(ctx context.Context, w io.Writer) error {
	pages := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: s.table,
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return wrapBackendError("Dump", err)
		}
		for _, item := range page.Items {
			r, err := itemToRecord(item)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s %s %d %s\n", r.PartitionKey, r.SortKey, r.Sequence, r.Type); err != nil {
				return err
			}
		}
	}
	return nil
}
