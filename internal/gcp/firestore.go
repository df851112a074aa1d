package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/docbatch/internal/batch"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreRecorder keeps one status document per run, keyed by run ID.
type FirestoreRecorder struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreRecorder writes into the named collection.
func NewFirestoreRecorder(client *firestore.Client, collection string) *FirestoreRecorder {
	return &FirestoreRecorder{client: client, collection: collection}
}

// Record creates the document on CREATED and updates it afterwards.
func (r *FirestoreRecorder) Record(ctx context.Context, t batch.Transition) error {
	docRef := r.client.Collection(r.collection).Doc(t.RunID)
	if t.State == batch.StateCreated {
		rec := t.RunRecord()
		rec.CreatedAt = t.At
		if _, err := docRef.Set(ctx, rec); err != nil {
			return fmt.Errorf("failed to create run document %s: %w", t.RunID, err)
		}
		return nil
	}
	if _, err := docRef.Update(ctx, transitionUpdates(t)); err != nil {
		return fmt.Errorf("failed to update run document %s to %s: %w", t.RunID, t.State, err)
	}
	return nil
}

func transitionUpdates(t batch.Transition) []firestore.Update {
	rec := t.RunRecord()
	updates := []firestore.Update{
		{Path: "state", Value: rec.State},
		{Path: "updatedAt", Value: rec.UpdatedAt},
	}
	if rec.InputKey != "" {
		updates = append(updates, firestore.Update{Path: "inputKey", Value: rec.InputKey})
	}
	if rec.OutputPrefix != "" {
		updates = append(updates, firestore.Update{Path: "outputPrefix", Value: rec.OutputPrefix})
	}
	if rec.JobID != "" {
		updates = append(updates,
			firestore.Update{Path: "jobId", Value: rec.JobID},
			firestore.Update{Path: "jobOperation", Value: rec.JobOperation},
		)
	}
	if !rec.Deadline.IsZero() {
		updates = append(updates, firestore.Update{Path: "deadline", Value: rec.Deadline})
	}
	if rec.PartCount > 0 {
		updates = append(updates, firestore.Update{Path: "partCount", Value: rec.PartCount})
	}
	if t.State == batch.StateDone {
		updates = append(updates,
			firestore.Update{Path: "errorCode", Value: rec.ErrorCode},
			firestore.Update{Path: "errorDetails", Value: rec.ErrorDetails},
			firestore.Update{Path: "inputReleased", Value: rec.InputReleased},
			firestore.Update{Path: "outputReleased", Value: rec.OutputReleased},
			firestore.Update{Path: "warnings", Value: rec.Warnings},
		)
	}
	return updates
}
