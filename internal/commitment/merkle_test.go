package commitment

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeLeaves(n int) []PayloadHash {
	leaves := make([]PayloadHash, n)
	for i := range leaves {
		leaves[i] = Hash([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return leaves
}

func TestBuildTreeRejectsEmpty(t *testing.T) {
	_, err := BuildTree(nil)
	assert.Error(t, err)
}

func TestInclusionVerifiesForEveryLeaf(t *testing.T) {
	// Cover single-leaf, powers of two, and odd shapes where nodes are
	// promoted unchanged.
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 13, 64, 100} {
		t.Run(fmt.Sprintf("leaves=%d", n), func(t *testing.T) {
			leaves := makeLeaves(n)
			tree, err := BuildTree(leaves)
			require.NoError(t, err)
			require.Equal(t, n, tree.LeafCount())

			for i, leaf := range leaves {
				path, err := tree.Path(i)
				require.NoError(t, err)
				assert.True(t, VerifyInclusion(tree.Root(), leaf, path),
					"leaf %d failed verification", i)
			}
		})
	}
}

func TestInclusionFailsForTamperedLeaf(t *testing.T) {
	leaves := makeLeaves(8)
	tree, err := BuildTree(leaves)
	require.NoError(t, err)

	path, err := tree.Path(3)
	require.NoError(t, err)

	tampered := Hash([]byte("not the committed payload"))
	assert.False(t, VerifyInclusion(tree.Root(), tampered, path))
}

func TestInclusionFailsForTamperedPath(t *testing.T) {
	leaves := makeLeaves(8)
	tree, err := BuildTree(leaves)
	require.NoError(t, err)

	path, err := tree.Path(0)
	require.NoError(t, err)
	path[0].Sibling = Hash([]byte("forged sibling"))
	assert.False(t, VerifyInclusion(tree.Root(), leaves[0], path))
}

func TestInclusionFailsAgainstWrongRoot(t *testing.T) {
	leaves := makeLeaves(4)
	tree, err := BuildTree(leaves)
	require.NoError(t, err)

	other, err := BuildTree(makeLeaves(5))
	require.NoError(t, err)

	path, err := tree.Path(2)
	require.NoError(t, err)
	assert.False(t, VerifyInclusion(other.Root(), leaves[2], path))
}

func TestPathRejectsOutOfRange(t *testing.T) {
	tree, err := BuildTree(makeLeaves(4))
	require.NoError(t, err)

	_, err = tree.Path(-1)
	assert.Error(t, err)
	_, err = tree.Path(4)
	assert.Error(t, err)
}

func TestRootChangesWithLeafOrder(t *testing.T) {
	leaves := makeLeaves(4)
	tree, err := BuildTree(leaves)
	require.NoError(t, err)

	swapped := append([]PayloadHash(nil), leaves...)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	reordered, err := BuildTree(swapped)
	require.NoError(t, err)

	assert.False(t, tree.Root().Equal(reordered.Root()))
}
