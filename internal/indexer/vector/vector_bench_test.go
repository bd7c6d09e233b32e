package vector

import (
	"fmt"
	"testing"
)

func benchTree(b *testing.B, n int) *Node {
	b.Helper()
	root := NewRoot()
	for i := range n {
		if err := root.Add(NewNode(fmt.Sprintf("token%d", i), uint64(i+1))); err != nil {
			b.Fatal(err)
		}
	}
	return root
}

func BenchmarkFromToken(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = FromToken("distributed")
	}
}

func BenchmarkNodeAdd(b *testing.B) {
	root := NewRoot()
	b.ReportAllocs()
	i := 0
	for b.Loop() {
		i++
		if err := root.Add(NewNode(fmt.Sprintf("term%d", i%5000), uint64(i))); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkNodeFind(b *testing.B) {
	root := benchTree(b, 10000)
	b.ReportAllocs()
	for b.Loop() {
		_, _ = root.Find("token4242")
	}
}

func BenchmarkNodeFindParallel(b *testing.B) {
	root := benchTree(b, 10000)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = root.Find("token4242")
		}
	})
}

func BenchmarkClone(b *testing.B) {
	root := benchTree(b, 10000)
	b.ReportAllocs()
	for b.Loop() {
		_ = root.Clone()
	}
}
