package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCUEStructOfObjects(t *testing.T) {
	const src = `
package shop

#Labels: app: "shop"

namespace: {
	apiVersion: "v1"
	kind:       "Namespace"
	metadata: name: "shop"
}

config: {
	apiVersion: "v1"
	kind:       "ConfigMap"
	metadata: {
		name:      "shop-config"
		namespace: "shop"
		labels:    #Labels
	}
	data: replicas: "2"
}
`
	descs, err := ParseCUE([]byte(src), "shop.cue")
	require.NoError(t, err)
	require.Len(t, descs, 2)

	assert.Equal(t, "<cluster>:Namespace/shop", descs[0].ID())
	assert.Equal(t, "shop.cue.namespace", descs[0].Source)
	assert.Equal(t, "shop:ConfigMap/shop-config", descs[1].ID())
	assert.Equal(t, map[string]string{"app": "shop"}, descs[1].Object.GetLabels())
}

func TestParseCUEList(t *testing.T) {
	const src = `[
	{apiVersion: "v1", kind: "ServiceAccount", metadata: {name: "runner", namespace: "ci"}},
	{apiVersion: "v1", kind: "Secret", metadata: {name: "token", namespace: "ci"}},
]`
	descs, err := ParseCUE([]byte(src), "ci.cue")
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, KindServiceAccount, descs[0].Kind())
	assert.Equal(t, "ci.cue[1]", descs[1].Source)
}

func TestParseCUEErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":        `kind: `,
		"incomplete":    `apiVersion: "v1", kind: "ConfigMap", metadata: name: string`,
		"not an object": `42`,
		"nested struct": `group: inner: {apiVersion: "v1"}`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCUE([]byte(src), "bad.cue")
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "bad.cue", perr.Source)
		})
	}
}
