package procmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		total float64
		want  Status
	}{
		{0, StatusNormal},
		{4.9, StatusNormal},
		{5, StatusWarning},
		{7.9, StatusWarning},
		{8, StatusCritical},
		{100, StatusCritical},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.total), "total=%v", c.total)
	}
}
