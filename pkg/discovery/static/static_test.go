package static

import (
    "testing"

    "github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
    require.Nil(t, Parse(""))
    require.Equal(t, []string{"a:1"}, Parse("a:1"))
    require.Equal(t, []string{"a:1", "b:2"}, Parse(" a:1 , b:2 "))
    require.Equal(t, []string{"a:1", "b:2"}, Parse(",,a:1, ,b:2,"))
}

func TestSeedsAreCopied(t *testing.T) {
    d := New(" a:1 ", "", "b:2")
    got := d.Seeds()
    require.Equal(t, []string{"a:1", "b:2"}, got)
    got[0] = "x"
    require.Equal(t, "a:1", d.Seeds()[0])
}
