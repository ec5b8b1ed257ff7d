package ports

import (
	"context"
	"reflect"
	"testing"

	"popcornstream/internal/domain"
)

func TestEngineInterface(t *testing.T) {
	typ := reflect.TypeOf((*Engine)(nil)).Elem()

	assertMethod(t, typ, "Start", []reflect.Type{
		contextType(),
		reflect.TypeOf(domain.SessionID("")),
		reflect.TypeOf(domain.TorrentSource{}),
		reflect.TypeOf((chan<- EngineEvent)(nil)),
	}, []reflect.Type{
		reflect.TypeOf((*StreamHandle)(nil)).Elem(),
		errorType(),
	})

	assertMethod(t, typ, "Close", nil, []reflect.Type{errorType()})
}

func TestStreamHandleInterface(t *testing.T) {
	typ := reflect.TypeOf((*StreamHandle)(nil)).Elem()

	assertMethod(t, typ, "SessionID", nil, []reflect.Type{reflect.TypeOf(domain.SessionID(""))})
	assertMethod(t, typ, "SelectFile", []reflect.Type{reflect.TypeOf(0)}, []reflect.Type{errorType()})
	assertMethod(t, typ, "Cancel", []reflect.Type{reflect.TypeOf(false)}, []reflect.Type{errorType()})
	assertMethod(t, typ, "NewReader", nil, []reflect.Type{
		reflect.TypeOf((*StreamReader)(nil)).Elem(),
		errorType(),
	})
}

func TestDownloadRegistryInterface(t *testing.T) {
	typ := reflect.TypeOf((*DownloadRegistry)(nil)).Elem()
	records := reflect.SliceOf(reflect.TypeOf(domain.DownloadRecord{}))

	assertMethod(t, typ, "ActiveDownloads", []reflect.Type{contextType()}, []reflect.Type{records, errorType()})
	assertMethod(t, typ, "CompletedDownloads", []reflect.Type{contextType()}, []reflect.Type{records, errorType()})
}

func TestWatchProgressStoreInterface(t *testing.T) {
	typ := reflect.TypeOf((*WatchProgressStore)(nil)).Elem()

	assertMethod(t, typ, "Get", []reflect.Type{
		contextType(),
		reflect.TypeOf(domain.MediaKind("")),
		reflect.TypeOf(domain.MediaID("")),
	}, []reflect.Type{reflect.TypeOf(domain.WatchProgress{}), errorType()})
	assertMethod(t, typ, "Upsert", []reflect.Type{
		contextType(),
		reflect.TypeOf(domain.WatchProgress{}),
	}, []reflect.Type{errorType()})
}

func TestCollaboratorInterfaces(t *testing.T) {
	assertMethod(t, reflect.TypeOf((*TorrentFetcher)(nil)).Elem(), "Fetch",
		[]reflect.Type{contextType(), reflect.TypeOf("")},
		[]reflect.Type{reflect.TypeOf(""), errorType()})

	assertMethod(t, reflect.TypeOf((*PlaybackConsumer)(nil)).Elem(), "Play",
		[]reflect.Type{contextType(), reflect.TypeOf(domain.Playback{}), reflect.TypeOf((*StreamHandle)(nil)).Elem()},
		[]reflect.Type{errorType()})

	assertMethod(t, reflect.TypeOf((*CacheCleaner)(nil)).Elem(), "Clear",
		[]reflect.Type{contextType()},
		[]reflect.Type{reflect.TypeOf(int64(0)), errorType()})

	assertMethod(t, reflect.TypeOf((*IdleInhibitor)(nil)).Elem(), "Acquire",
		[]reflect.Type{reflect.TypeOf("")},
		[]reflect.Type{reflect.TypeOf((func())(nil))})

	assertMethod(t, reflect.TypeOf((*NetworkMonitor)(nil)).Elem(), "IsExpensive",
		nil, []reflect.Type{reflect.TypeOf(false)})
}

func TestStreamReaderInterface(t *testing.T) {
	typ := reflect.TypeOf((*StreamReader)(nil)).Elem()

	assertMethod(t, typ, "SetContext", []reflect.Type{contextType()}, nil)
	assertMethod(t, typ, "SetReadahead", []reflect.Type{reflect.TypeOf(int64(0))}, nil)
	assertMethod(t, typ, "SetResponsive", nil, nil)
}

func TestEngineEventKindString(t *testing.T) {
	if EventFilesAvailable.String() != "files_available" {
		t.Fatalf("EventFilesAvailable = %q", EventFilesAvailable.String())
	}
	if EngineEventKind(42).String() != "unknown" {
		t.Fatalf("out of range kind = %q", EngineEventKind(42).String())
	}
}

func assertMethod(t *testing.T, typ reflect.Type, name string, in []reflect.Type, out []reflect.Type) {
	t.Helper()
	method, ok := typ.MethodByName(name)
	if !ok {
		t.Fatalf("missing method %s", name)
	}

	wantIn := len(in)
	if method.Type.NumIn() != wantIn {
		t.Fatalf("%s NumIn = %d, want %d", name, method.Type.NumIn(), wantIn)
	}
	for i, typIn := range in {
		if got := method.Type.In(i); got != typIn {
			t.Fatalf("%s In[%d] = %s, want %s", name, i, got, typIn)
		}
	}

	if method.Type.NumOut() != len(out) {
		t.Fatalf("%s NumOut = %d, want %d", name, method.Type.NumOut(), len(out))
	}
	for i, typOut := range out {
		if got := method.Type.Out(i); got != typOut {
			t.Fatalf("%s Out[%d] = %s, want %s", name, i, got, typOut)
		}
	}
}

func contextType() reflect.Type {
	return reflect.TypeOf((*context.Context)(nil)).Elem()
}

func errorType() reflect.Type {
	return reflect.TypeOf((*error)(nil)).Elem()
}
