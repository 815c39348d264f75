package schema

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"protomock/pkg/logger"
)

// Load парсит .proto файлы из каталога в граф дескрипторов.
// Файлы с неразрешимыми импортами пропускаются и попадают в отчёт.
// Отсутствующий каталог даёт пустой граф без ошибки.
func Load(protoDir string, includePaths []string) (*Graph, *Report, error) {
	graph := NewGraph()
	report := &Report{}

	if _, err := os.Stat(protoDir); err != nil {
		if os.IsNotExist(err) {
			logger.Log.Warn("Proto directory does not exist, starting with empty schema", "dir", protoDir)
			return graph, report, nil
		}
		return nil, nil, fmt.Errorf("failed to stat proto dir: %w", err)
	}

	files, err := collectProtoFiles(protoDir)
	if err != nil {
		return nil, nil, err
	}

	// Импорты вида validate/*.proto и buf/validate/*.proto разрешаются
	// из того же корня; well-known types берутся из скомпилированных.
	importPaths := append([]string{protoDir}, includePaths...)
	parser := protoparse.Parser{
		ImportPaths:  importPaths,
		LookupImport: desc.LoadFileDescriptor,
	}

	parsed := map[string]*desc.FileDescriptor{}
	for _, rel := range files {
		fds, err := parser.ParseFiles(rel)
		if err != nil {
			logger.Log.Warn("Skipping proto file", "file", rel, "error", err)
			report.Skipped = append(report.Skipped, SkippedFile{File: rel, Reason: err.Error()})
			continue
		}
		report.Loaded = append(report.Loaded, rel)
		for _, fd := range fds {
			collectFileTree(fd, parsed)
		}
	}

	// Детерминированный порядок обхода
	names := make([]string, 0, len(parsed))
	for name := range parsed {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		addFileTypes(graph, parsed[name])
	}
	for _, name := range names {
		addFileServices(graph, parsed[name], report)
	}

	logger.Log.Info("Schema loaded",
		"files", len(report.Loaded),
		"skipped", len(report.Skipped),
		"messages", len(graph.Messages),
		"services", len(graph.Services),
	)

	return graph, report, nil
}

func collectProtoFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".proto") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk proto dir: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func collectFileTree(fd *desc.FileDescriptor, out map[string]*desc.FileDescriptor) {
	if _, ok := out[fd.GetName()]; ok {
		return
	}
	out[fd.GetName()] = fd
	for _, dep := range fd.GetDependencies() {
		collectFileTree(dep, out)
	}
}

func addFileTypes(g *Graph, fd *desc.FileDescriptor) {
	for _, md := range fd.GetMessageTypes() {
		addMessage(g, md)
	}
	for _, ed := range fd.GetEnumTypes() {
		addEnum(g, ed)
	}
}

func addMessage(g *Graph, md *desc.MessageDescriptor) {
	if md.IsMapEntry() {
		return
	}
	fqn := md.GetFullyQualifiedName()
	if _, ok := g.Messages[fqn]; ok {
		return
	}

	info := &MessageInfo{
		Name:       fqn,
		fieldIndex: make(map[string]*FieldInfo),
	}
	info.Options, info.FlatOptions = extensionMaps(md.GetMessageOptions())

	for _, fd := range md.GetFields() {
		fi := &FieldInfo{
			Name:     fd.GetName(),
			JSONName: fd.GetJSONName(),
			Kind:     fieldKind(fd),
			Number:   fd.GetNumber(),
			Repeated: fd.IsRepeated() && !fd.IsMap(),
			IsMap:    fd.IsMap(),
		}
		if fd.AsFieldDescriptorProto().GetProto3Optional() {
			fi.Proto3Optional = true
		}
		if oo := fd.GetOneOf(); oo != nil {
			fi.Oneof = oo.GetName()
		}
		if mt := fd.GetMessageType(); mt != nil {
			fi.TypeName = mt.GetFullyQualifiedName()
		} else if et := fd.GetEnumType(); et != nil {
			fi.TypeName = et.GetFullyQualifiedName()
		}
		fi.Options, fi.FlatOptions = extensionMaps(fd.GetFieldOptions())

		info.Fields = append(info.Fields, fi)
		info.fieldIndex[fi.Name] = fi
	}

	for _, oo := range md.GetOneOfs() {
		oi := &OneofInfo{
			Name:      oo.GetName(),
			Synthetic: oo.IsSynthetic(),
		}
		for _, choice := range oo.GetChoices() {
			oi.Fields = append(oi.Fields, choice.GetName())
		}
		oi.Options, oi.FlatOptions = extensionMaps(oo.GetOneOfOptions())
		info.Oneofs = append(info.Oneofs, oi)
	}

	g.Messages[fqn] = info
	g.descriptors[fqn] = md.UnwrapMessage()

	for _, nested := range md.GetNestedMessageTypes() {
		addMessage(g, nested)
	}
	for _, nested := range md.GetNestedEnumTypes() {
		addEnum(g, nested)
	}
}

func addEnum(g *Graph, ed *desc.EnumDescriptor) {
	fqn := ed.GetFullyQualifiedName()
	if _, ok := g.Enums[fqn]; ok {
		return
	}
	info := &EnumInfo{
		Name:     fqn,
		ByName:   make(map[string]int32),
		ByNumber: make(map[int32]string),
	}
	for _, v := range ed.GetValues() {
		info.ByName[v.GetName()] = v.GetNumber()
		if _, ok := info.ByNumber[v.GetNumber()]; !ok {
			info.ByNumber[v.GetNumber()] = v.GetName()
		}
	}
	g.Enums[fqn] = info
}

func addFileServices(g *Graph, fd *desc.FileDescriptor, report *Report) {
	for _, sd := range fd.GetServices() {
		svc := &ServiceInfo{
			Package:  fd.GetPackage(),
			Name:     sd.GetName(),
			FullName: sd.GetFullyQualifiedName(),
		}
		for _, mtd := range sd.GetMethods() {
			in := mtd.GetInputType().GetFullyQualifiedName()
			out := mtd.GetOutputType().GetFullyQualifiedName()
			if _, ok := g.Messages[in]; !ok {
				report.DroppedMethods = append(report.DroppedMethods, DroppedMethod{
					Service: svc.FullName,
					Method:  mtd.GetName(),
					Reason:  fmt.Sprintf("input type %s not found", in),
				})
				logger.Log.Error("Dropping method: unresolved input type",
					"service", svc.FullName, "method", mtd.GetName(), "type", in)
				continue
			}
			if _, ok := g.Messages[out]; !ok {
				report.DroppedMethods = append(report.DroppedMethods, DroppedMethod{
					Service: svc.FullName,
					Method:  mtd.GetName(),
					Reason:  fmt.Sprintf("output type %s not found", out),
				})
				logger.Log.Error("Dropping method: unresolved output type",
					"service", svc.FullName, "method", mtd.GetName(), "type", out)
				continue
			}
			svc.Methods = append(svc.Methods, &MethodInfo{
				Name:         mtd.GetName(),
				InputType:    in,
				OutputType:   out,
				ClientStream: mtd.IsClientStreaming(),
				ServerStream: mtd.IsServerStreaming(),
				RuleKey:      RuleKey(fd.GetPackage(), sd.GetName(), mtd.GetName()),
			})
		}
		g.Services = append(g.Services, svc)
	}
}

func fieldKind(fd *desc.FieldDescriptor) string {
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		return "string"
	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		return "bytes"
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		return "bool"
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		return "enum"
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE,
		descriptorpb.FieldDescriptorProto_TYPE_GROUP:
		return "message"
	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		return "double"
	case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		return "float"
	case descriptorpb.FieldDescriptorProto_TYPE_INT64,
		descriptorpb.FieldDescriptorProto_TYPE_SINT64,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED64:
		return "int64"
	case descriptorpb.FieldDescriptorProto_TYPE_UINT64,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED64:
		return "uint64"
	case descriptorpb.FieldDescriptorProto_TYPE_INT32,
		descriptorpb.FieldDescriptorProto_TYPE_SINT32,
		descriptorpb.FieldDescriptorProto_TYPE_SFIXED32:
		return "int32"
	case descriptorpb.FieldDescriptorProto_TYPE_UINT32,
		descriptorpb.FieldDescriptorProto_TYPE_FIXED32:
		return "uint32"
	default:
		return "unknown"
	}
}

// LoadDescriptorSet читает pre-generated FileDescriptorSet для reflection
func LoadDescriptorSet(path string) (*descriptorpb.FileDescriptorSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal descriptor set: %w", err)
	}
	return &set, nil
}
