package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketName(t *testing.T) {
	assert.Equal(t, "tenant-acme-corp", BucketName("acme-corp"))
	// Deterministic per slug.
	assert.Equal(t, BucketName("acme-corp"), BucketName("acme-corp"))
}
